package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	redisv9 "github.com/redis/go-redis/v9"
)

// EmbeddingCache keeps query embeddings in a process-local LRU backed by an
// optional Redis tier shared between instances.
type EmbeddingCache struct {
	l1     *lru.Cache[string, []float32]
	client *redisv9.Client
	ttl    time.Duration
}

func NewEmbeddingCache(client *redisv9.Client, l1Size int, ttl time.Duration) (*EmbeddingCache, error) {
	if l1Size <= 0 {
		l1Size = 2048
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	l1, err := lru.New[string, []float32](l1Size)
	if err != nil {
		return nil, fmt.Errorf("create embedding l1 cache failed: %w", err)
	}
	return &EmbeddingCache{l1: l1, client: client, ttl: ttl}, nil
}

func (c *EmbeddingCache) Get(ctx context.Context, modelID, text string) ([]float32, bool, error) {
	key := c.embeddingKey(modelID, text)
	if vec, ok := c.l1.Get(key); ok {
		return vec, true, nil
	}
	if c.client == nil {
		return nil, false, nil
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get embedding failed: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached embedding failed: %w", err)
	}
	c.l1.Add(key, vec)
	return vec, true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, modelID, text string, vec []float32) error {
	key := c.embeddingKey(modelID, text)
	c.l1.Add(key, vec)
	if c.client == nil {
		return nil
	}

	payload, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding cache failed: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set embedding failed: %w", err)
	}
	return nil
}

func (c *EmbeddingCache) Len() int {
	return c.l1.Len()
}

func (c *EmbeddingCache) embeddingKey(modelID, text string) string {
	sum := sha1.Sum([]byte(text))
	return fmt.Sprintf("emb:%s:%s", modelID, hex.EncodeToString(sum[:]))
}
