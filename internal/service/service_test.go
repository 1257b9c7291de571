package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"conduit-client/internal/clock"
	"conduit-client/internal/querycache"
)

var (
	ctx   = context.Background()
	start = time.Unix(1_700_000_000, 0)
)

func newCache(t *testing.T) (*querycache.Cache, *clock.Manual) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clk := clock.NewManual(start)
	retry := querycache.NoRetry()
	return querycache.New(querycache.Config{Clock: clk, Logger: logger, Retry: &retry}), clk
}

// counter tracks calls by name for fakes shared between goroutines.
type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) hit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[name]++
}

func (c *counter) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *counter) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprint(c.calls)
}
