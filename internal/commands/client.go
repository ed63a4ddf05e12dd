package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// APIKeyEnv supplies the X-API-Key header for client commands.
const APIKeyEnv = "QUALITYLOOP_API_KEY"

const clientTimeout = 30 * time.Second

// apiClient talks to a running `qualityloop serve`.
type apiClient struct {
	base   string
	apiKey string
	http   *http.Client
}

func newAPIClient(addr string) *apiClient {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &apiClient{
		base:   base,
		apiKey: os.Getenv(APIKeyEnv),
		http:   &http.Client{Timeout: clientTimeout},
	}
}

// do sends body (when non-nil) as JSON and decodes the response into out.
// Non-2xx responses still decode into out when the body is JSON, so callers
// can show structured rejections; the status code is returned either way.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, fmt.Errorf("unauthorized: set %s", APIKeyEnv)
	}
	return resp.StatusCode, nil
}

// addrFlag registers the shared --addr flag.
func addrFlag(cmd *cobra.Command, addr *string) {
	cmd.Flags().StringVar(addr, "addr", "localhost:3000", "Address of a running qualityloop server")
}
