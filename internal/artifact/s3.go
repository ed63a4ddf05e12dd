package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps artifacts as objects under bucket/prefix.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3-backed store.
func NewS3Store(client S3API, bucket, prefix string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket name required")
	}
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3Store) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return s.prefix + "/" + rel
}

func (s *S3Store) get(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("getting %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return string(data), nil
}

func (s *S3Store) put(ctx context.Context, key, content string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

// Read returns the object content at location.
func (s *S3Store) Read(ctx context.Context, location string) (string, error) {
	loc, err := cleanLocation(location)
	if err != nil {
		return "", err
	}
	return s.get(ctx, s.key(loc))
}

// Write puts the object at location.
func (s *S3Store) Write(ctx context.Context, location, content string) error {
	loc, err := cleanLocation(location)
	if err != nil {
		return err
	}
	return s.put(ctx, s.key(loc), content)
}

// Snapshot copies the object to {prefix}/.snapshots/{id}.
func (s *S3Store) Snapshot(ctx context.Context, location string) (types.SnapshotHandle, error) {
	loc, err := cleanLocation(location)
	if err != nil {
		return types.SnapshotHandle{}, err
	}
	h := newHandle(loc)
	content, err := s.get(ctx, s.key(loc))
	if errors.Is(err, ErrNotFound) {
		return h, nil
	}
	if err != nil {
		return types.SnapshotHandle{}, err
	}
	ref := s.key(snapshotDir + "/" + h.ID)
	if err := s.put(ctx, ref, content); err != nil {
		return types.SnapshotHandle{}, fmt.Errorf("writing snapshot: %w", err)
	}
	h.Existed = true
	h.Ref = ref
	return h, nil
}

// Restore copies the snapshot object back, or deletes the location when it
// did not exist before.
func (s *S3Store) Restore(ctx context.Context, snap types.SnapshotHandle) error {
	loc, err := cleanLocation(snap.Location)
	if err != nil {
		return err
	}
	if !snap.Existed {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(loc)),
		})
		if err != nil {
			return fmt.Errorf("deleting %s: %w", loc, err)
		}
		return nil
	}
	content, err := s.get(ctx, snap.Ref)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", snap.ID, err)
	}
	return s.put(ctx, s.key(loc), content)
}
