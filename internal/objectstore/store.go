// Package objectstore is a thin S3 wrapper shared by the config loader
// (C1), the resilient cache (C4), and the audit writer (C10). It exposes
// only the three operations those callers need: get, put, and list-by-
// prefix.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is a narrow interface over *s3.Client so callers can be tested
// against a fake.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte) error
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
}

// S3Store is the production Store backed by *s3.Client.
type S3Store struct {
	client *s3.Client
}

// New wraps an *s3.Client.
func New(client *s3.Client) *S3Store { return &S3Store{client: client} }

func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetObject(%s/%s): %w", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Put writes body to key. Per §4.10, writers here only ever PUT — no
// update, no delete — so this method also serves the audit writer's
// immutability requirement as long as callers choose collision-resistant
// keys (they do: request_id + nonce).
func (s *S3Store) Put(ctx context.Context, bucket, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("PutObject(%s/%s): %w", bucket, key, err)
	}
	return nil
}

func (s *S3Store) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListObjectsV2(%s/%s): %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
