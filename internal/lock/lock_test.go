package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

func exercise(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "account:u1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// A second holder must wait.
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "account:u1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lock err = %v, want deadline exceeded", err)
	}

	unlock()
	again, err := l.Lock(ctx, "account:u1")
	if err != nil {
		t.Fatalf("relock after unlock: %v", err)
	}
	again()
}

func TestLocalExclusive(t *testing.T) {
	exercise(t, NewLocal())
}

func TestLocalSerializes(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "account:hot")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("%d holders at once", maxSeen)
	}
}

func TestRedisExclusive(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEDGER_TEST_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(context.Background(), addr, "", 0)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer client.Close()

	l := NewRedis(client, 2*time.Second)
	exercise(t, l)

	// A stale unlock must not release someone else's lock.
	ctx := context.Background()
	first, err := l.Lock(ctx, "account:stale")
	if err != nil {
		t.Fatal(err)
	}
	client.Del(ctx, keyPrefix+"account:stale")
	second, err := l.Lock(ctx, "account:stale")
	if err != nil {
		t.Fatal(err)
	}
	first()
	if n, _ := client.Exists(ctx, keyPrefix+"account:stale").Result(); n != 1 {
		t.Errorf("stale unlock released the new holder")
	}
	second()
}
