package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryDeduplicator implements UpdateDeduplicator with an in-memory map
type MemoryDeduplicator struct {
	config *DedupConfig
	logger *zap.Logger

	mu   sync.Mutex
	seen map[int64]time.Time

	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryDeduplicator creates an in-memory deduplicator and starts its
// expiry sweeper
func NewMemoryDeduplicator(cfg *DedupConfig, logger *zap.Logger) *MemoryDeduplicator {
	d := &MemoryDeduplicator{
		config:   cfg,
		logger:   logger,
		seen:     make(map[int64]time.Time),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.cleanup()

	return d
}

// Seen marks updateID as seen and reports whether it already was
func (d *MemoryDeduplicator) Seen(ctx context.Context, updateID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expiresAt, ok := d.seen[updateID]; ok && now.Before(expiresAt) {
		return true, nil
	}

	if d.config.MaxEntries > 0 && len(d.seen) >= d.config.MaxEntries {
		d.evictLocked(now)
	}

	d.seen[updateID] = now.Add(d.config.TTL)
	return false, nil
}

// evictLocked drops expired ids, then the oldest one if still full
func (d *MemoryDeduplicator) evictLocked(now time.Time) {
	var (
		oldestID  int64
		oldestExp time.Time
		found     bool
	)
	for id, expiresAt := range d.seen {
		if !now.Before(expiresAt) {
			delete(d.seen, id)
			continue
		}
		if !found || expiresAt.Before(oldestExp) {
			oldestID, oldestExp, found = id, expiresAt, true
		}
	}
	if found && len(d.seen) >= d.config.MaxEntries {
		delete(d.seen, oldestID)
	}
}

// cleanup periodically removes expired entries
func (d *MemoryDeduplicator) cleanup() {
	defer d.wg.Done()

	interval := d.config.TTL
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mu.Lock()
			now := d.now()
			for id, expiresAt := range d.seen {
				if !now.Before(expiresAt) {
					delete(d.seen, id)
				}
			}
			d.mu.Unlock()
		case <-d.stopChan:
			return
		}
	}
}

// Size returns the number of remembered ids
func (d *MemoryDeduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Close stops the sweeper
func (d *MemoryDeduplicator) Close() error {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
	return nil
}
