package dynamodb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/oklog/ulid/v2"
)

// PK/SK constants.
const (
	pkLearning = "LEARNING"
	pkHistory  = "HISTORY"

	prefixPattern = "PATTERN#"
	prefixEntry   = "ENTRY#"
)

func patternSK(id string) string { return prefixPattern + id }

// entrySK sorts in append order: ULIDs from ulid.Make are monotonic within
// a process, even inside one millisecond.
func entrySK() string { return prefixEntry + ulid.Make().String() }

func attributeStr(item map[string]ddbtypes.AttributeValue, key string) (string, error) {
	av, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	var s string
	if err := attributevalue.Unmarshal(av, &s); err != nil {
		return "", fmt.Errorf("unmarshaling %q: %w", key, err)
	}
	return s, nil
}
