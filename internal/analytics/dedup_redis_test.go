package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/propertypulse/campaign-engine/internal/domain"
)

func TestRedisDedupMarkProcessed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewRedisDedup(client, time.Hour)
	ctx := context.Background()

	fresh, err := d.MarkProcessed(ctx, "t1", domain.EventOpened)
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !fresh {
		t.Fatal("first mark should be fresh")
	}

	fresh, err = d.MarkProcessed(ctx, "t1", domain.EventOpened)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if fresh {
		t.Fatal("second mark should be a duplicate")
	}

	// Same tracking ID, different event type: independent key.
	fresh, err = d.MarkProcessed(ctx, "t1", domain.EventClicked)
	if err != nil {
		t.Fatalf("other type: %v", err)
	}
	if !fresh {
		t.Fatal("a different event type is not a duplicate")
	}

	// Expired keys are processable again.
	mr.FastForward(2 * time.Hour)
	fresh, err = d.MarkProcessed(ctx, "t1", domain.EventOpened)
	if err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	if !fresh {
		t.Fatal("mark after retention expiry should be fresh")
	}
}
