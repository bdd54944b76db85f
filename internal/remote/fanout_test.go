package remote

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskdeck/internal/logging"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return rc
}

func TestLocalFanout(t *testing.T) {
	f := NewLocalFanout()
	ch, cancel := f.Subscribe()
	f.Publish(context.Background())
	f.Publish(context.Background())
	select {
	case <-ch:
	default:
		t.Fatal("no signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}
	cancel()
	f.Publish(context.Background())
	select {
	case <-ch:
		t.Fatal("signal after cancel")
	default:
	}
}

func TestRedisFanoutReachesOtherReplicas(t *testing.T) {
	rc := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewRedisFanout(rc, "taskdeck-updates", logging.Discard())
	b := NewRedisFanout(rc, "taskdeck-updates", logging.Discard())
	go a.Run(ctx)
	go b.Run(ctx)

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// The subscription is established asynchronously; publish until it lands.
	deadline := time.After(3 * time.Second)
	for {
		if err := a.Publish(ctx); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case <-ch:
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("replica b was never notified")
		}
	}
}

func TestRedisFanoutIgnoresGarbage(t *testing.T) {
	rc := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewRedisFanout(rc, "taskdeck-updates", logging.Discard())
	go f.Run(ctx)
	ch, unsubscribe := f.Subscribe()
	defer unsubscribe()

	deadline := time.After(3 * time.Second)
	for {
		rc.Publish(ctx, "taskdeck-updates", "not json")
		if err := f.Publish(ctx); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case <-ch:
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("valid event after garbage was not delivered")
		}
	}
}
