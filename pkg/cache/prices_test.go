package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPriceCacheSetGet(t *testing.T) {
	c := NewPriceCache()
	c.Set("btc/usdt", decimal.NewFromInt(60000))

	got, ok := c.Get("BTC/USDT")
	if !ok || !got.Equal(decimal.NewFromInt(60000)) {
		t.Fatalf("Get = %s, %v", got, ok)
	}
	if _, ok := c.Get("ETH/USDT"); ok {
		t.Error("unexpected hit for ETH/USDT")
	}

	c.Delete("BTC/USDT")
	if c.Len() != 0 {
		t.Errorf("Len after delete = %d", c.Len())
	}
}

func TestPriceCacheCleanup(t *testing.T) {
	c := NewPriceCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.Set("OLD/USDT", decimal.NewFromInt(1))

	now = now.Add(time.Hour)
	c.Set("NEW/USDT", decimal.NewFromInt(2))

	if removed := c.Cleanup(30 * time.Minute); removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	all := c.All()
	if len(all) != 1 || all[0].Pair != "NEW/USDT" {
		t.Errorf("remaining = %+v", all)
	}
}

func TestPriceCacheConcurrent(t *testing.T) {
	c := NewPriceCache()
	var wg sync.WaitGroup
	pairs := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT"}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := pairs[i%len(pairs)]
			c.Set(p, decimal.NewFromInt(int64(i)))
			c.Get(p)
		}(i)
	}
	wg.Wait()
	if c.Len() != len(pairs) {
		t.Errorf("Len = %d", c.Len())
	}
}
