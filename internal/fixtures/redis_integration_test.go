//go:build integration

package fixtures

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// Run with: MATCHPICKS_TEST_REDIS_URL=redis://localhost:6379/0 go test -tags integration ./internal/fixtures
func TestRedisRepository(t *testing.T) {
	url := os.Getenv("MATCHPICKS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("MATCHPICKS_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	prefix := fmt.Sprintf("matchpicks-test:%d:", time.Now().UnixNano())
	repo := NewRedisRepository(client, prefix)
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		repo.Close()
	})

	checkRepository(t, repo)
}
