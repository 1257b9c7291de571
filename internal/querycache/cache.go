// Package querycache memoizes asynchronous loads by hierarchical key. It
// deduplicates concurrent loads, tracks staleness, retries failures and
// drops entries nobody has read for a while.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"conduit-client/internal/clock"
)

// ErrTypeMismatch is returned by Fetch when a key holds a value of another type.
var ErrTypeMismatch = errors.New("cached value has unexpected type")

// Loader produces the value for one key.
type Loader func(ctx context.Context) (any, error)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Options tune a single key family. A zero StaleAfter means values are stale
// as soon as they are stored.
type Options struct {
	StaleAfter   time.Duration
	CollectAfter time.Duration
	// Retry overrides the cache policy when set.
	Retry *RetryPolicy
}

// Config configures a Cache. Zero fields take defaults.
type Config struct {
	Clock    clock.Clock
	Logger   *logrus.Logger
	Defaults Options
	Retry    *RetryPolicy
}

const defaultCollectAfter = 5 * time.Minute

type entry struct {
	key       Key
	flightKey string
	opts      Options

	value     any
	hasValue  bool
	status    Status
	err       error
	failures  int
	fetchedAt time.Time
	updatedAt time.Time
	lastRead  time.Time

	fetching    bool
	waiters     int
	invalidated bool
	epoch       uint64
}

func (e *entry) fresh(now time.Time) bool {
	return e.hasValue && e.status == StatusSuccess && !e.invalidated &&
		now.Sub(e.fetchedAt) < e.opts.StaleAfter
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	seq      uint64
	group    singleflight.Group
	clock    clock.Clock
	logger   *logrus.Logger
	defaults Options
	retry    RetryPolicy
}

func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	retry := DefaultRetryPolicy()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	return &Cache{
		entries:  make(map[string]*entry),
		clock:    clock.OrSystem(cfg.Clock),
		logger:   logger,
		defaults: cfg.Defaults,
		retry:    retry,
	}
}

func (c *Cache) normalize(opts Options) Options {
	if opts.StaleAfter == 0 {
		opts.StaleAfter = c.defaults.StaleAfter
	}
	if opts.CollectAfter == 0 {
		opts.CollectAfter = c.defaults.CollectAfter
	}
	if opts.CollectAfter == 0 {
		opts.CollectAfter = defaultCollectAfter
	}
	if opts.CollectAfter < opts.StaleAfter {
		opts.CollectAfter = opts.StaleAfter
	}
	if opts.Retry == nil {
		r := c.retry
		opts.Retry = &r
	}
	return opts
}

// entryLocked returns the entry for key, creating an idle one if needed.
func (c *Cache) entryLocked(key Key, opts Options) *entry {
	id := key.id()
	e, ok := c.entries[id]
	if !ok {
		c.seq++
		e = &entry{
			key:       NewKey(key...),
			flightKey: id + "\x00" + strconv.FormatUint(c.seq, 10),
			status:    StatusIdle,
		}
		c.entries[id] = e
	}
	e.opts = opts
	return e
}

// Get returns the value for key, running loader when the entry is absent,
// stale or invalidated. Concurrent callers for the same key share one load.
// The load is detached from ctx; a cancelled caller stops waiting but the
// load still completes for the others.
func (c *Cache) Get(ctx context.Context, key Key, loader Loader, opts Options) (any, error) {
	opts = c.normalize(opts)

	c.mu.Lock()
	now := c.clock.Now()
	c.collectLocked(now)
	e := c.entryLocked(key, opts)
	e.lastRead = now
	if !e.fetching && e.fresh(now) {
		v := e.value
		c.mu.Unlock()
		c.logger.WithField("key", key.String()).Debug("query cache hit")
		return v, nil
	}

	if !e.fetching {
		e.fetching = true
		e.status = StatusLoading
		c.logger.WithField("key", key.String()).Debug("query cache load")
	}
	e.waiters++
	epoch := e.epoch
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(e.flightKey, func() (any, error) {
		return c.load(loadCtx, e, epoch, loader, *opts.Retry)
	})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		e.waiters--
		c.mu.Unlock()
	}()

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context, e *entry, epoch uint64, loader Loader, policy RetryPolicy) (any, error) {
	log := c.logger.WithField("key", e.key.String())

	var value any
	failures := 0
	op := func() error {
		v, err := loader(ctx)
		if err != nil {
			failures++
			if !policy.retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		value = v
		return nil
	}
	err := backoff.RetryNotify(op, policy.backOff(ctx), func(err error, next time.Duration) {
		log.WithError(err).WithField("retry_in", next).Warn("query load failed, retrying")
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	e.fetching = false
	if c.entries[e.key.id()] != e {
		// Removed while loading; the result must not come back.
		return value, err
	}

	now := c.clock.Now()
	e.failures = failures
	e.updatedAt = now
	if err != nil {
		log.WithError(err).Warn("query load failed")
		e.status = StatusError
		e.err = err
		return nil, err
	}
	e.value = value
	e.hasValue = true
	e.status = StatusSuccess
	e.err = nil
	e.fetchedAt = now
	e.invalidated = e.epoch != epoch
	return value, nil
}

// Invalidate marks every entry under prefix stale. Values stay readable
// through Peek until the next load replaces them.
func (c *Cache) Invalidate(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			e.invalidated = true
			e.epoch++
		}
	}
}

// SetValue stores value under key as a fresh success.
func (c *Cache) SetValue(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := c.normalize(Options{})
	if e, ok := c.entries[key.id()]; ok {
		opts = e.opts
	}
	e := c.entryLocked(key, opts)
	now := c.clock.Now()
	e.value = value
	e.hasValue = true
	e.status = StatusSuccess
	e.err = nil
	e.failures = 0
	e.fetchedAt = now
	e.updatedAt = now
	e.lastRead = now
	e.invalidated = false
}

// Remove drops every entry under prefix. Loads still running for them finish
// without storing their result.
func (c *Cache) Remove(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			delete(c.entries, id)
		}
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Collect drops entries nobody has read within their collection window.
// Entries with a load in flight are kept.
func (c *Cache) Collect() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectLocked(c.clock.Now())
}

func (c *Cache) collectLocked(now time.Time) int {
	dropped := 0
	for id, e := range c.entries {
		if e.fetching || e.waiters > 0 {
			continue
		}
		if now.Sub(e.lastRead) >= e.opts.CollectAfter {
			delete(c.entries, id)
			dropped++
		}
	}
	return dropped
}

// Run collects on every tick until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Collect(); n > 0 {
				c.logger.WithField("dropped", n).Debug("query cache collected")
			}
		}
	}
}

// Snapshot is a point-in-time view of one entry.
type Snapshot struct {
	Data      any
	HasData   bool
	Status    Status
	Err       error
	IsLoading bool
	IsStale   bool
	Failures  int
	UpdatedAt time.Time
}

// Peek reads an entry without loading it or extending its lifetime.
func (c *Cache) Peek(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.id()]
	if !ok {
		return Snapshot{Status: StatusIdle}, false
	}
	return Snapshot{
		Data:      e.value,
		HasData:   e.hasValue,
		Status:    e.status,
		Err:       e.err,
		IsLoading: e.fetching,
		IsStale:   !e.fresh(c.clock.Now()),
		Failures:  e.failures,
		UpdatedAt: e.updatedAt,
	}, true
}

// Fetch is the typed form of Get.
func Fetch[V any](ctx context.Context, c *Cache, key Key, loader func(context.Context) (V, error), opts Options) (V, error) {
	var zero V
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	}, opts)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(V)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", ErrTypeMismatch, key, v)
	}
	return typed, nil
}

// View is the typed read model of one entry.
type View[V any] struct {
	Data      V
	HasData   bool
	IsLoading bool
	Err       error
}

// Observe returns the typed read model for key without triggering a load.
func Observe[V any](c *Cache, key Key) View[V] {
	snap, _ := c.Peek(key)
	view := View[V]{HasData: snap.HasData, IsLoading: snap.IsLoading, Err: snap.Err}
	if typed, ok := snap.Data.(V); ok {
		view.Data = typed
	} else if snap.HasData {
		view.HasData = false
	}
	return view
}
