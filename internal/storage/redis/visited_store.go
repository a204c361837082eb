// Package redis keeps visited-page snapshots in Redis lists.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "visited_pages:"
	pushChunk        = 10_000
)

// VisitedStore stores one list per normalized base URL under <prefix><url>.
type VisitedStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewVisitedStore wraps an existing client.
func NewVisitedStore(client *redis.Client, keyPrefix string) (*VisitedStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &VisitedStore{client: client, keyPrefix: keyPrefix}, nil
}

func (s *VisitedStore) key(baseURL string) string {
	return s.keyPrefix + baseURL
}

// Load returns the snapshot for baseURL, or nil when none exists.
func (s *VisitedStore) Load(ctx context.Context, baseURL string) ([]string, error) {
	key := s.key(baseURL)
	paths, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load visited pages %s: %w", key, err)
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return paths, nil
}

// Save atomically replaces the snapshot for baseURL. An empty snapshot deletes the key.
func (s *VisitedStore) Save(ctx context.Context, baseURL string, paths []string) error {
	key := s.key(baseURL)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		for start := 0; start < len(paths); start += pushChunk {
			end := min(start+pushChunk, len(paths))
			values := make([]any, 0, end-start)
			for _, p := range paths[start:end] {
				values = append(values, p)
			}
			pipe.RPush(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save visited pages %s: %w", key, err)
	}
	return nil
}
