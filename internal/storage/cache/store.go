package cache

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/davidrmellors/receipt-splitter/internal/models"
	"github.com/davidrmellors/receipt-splitter/internal/storage"
)

// Ensure CachedStore implements storage.Store
var _ storage.Store = (*CachedStore)(nil)

// CachedStore serves per-group receipt lists from memory.
//
// Reads go through to the wrapped store on a miss. Every receipt write is
// forwarded to the wrapped store first and then drops the group's snapshot,
// so the next read reloads it. The wrapped store stays the only source of truth.
type CachedStore struct {
	storage.Store

	receipts *LRUCache[[]*models.Receipt]

	mu    sync.Mutex
	loads map[string]*load // group ID -> loads in flight
}

// load tracks store reads in flight for one group. gen moves on every
// invalidation, so a read that started before a write never caches its result.
type load struct {
	readers int
	gen     uint64
}

// NewCachedStore wraps store with a snapshot cache of the given size and TTL.
func NewCachedStore(store storage.Store, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store:    store,
		receipts: NewLRUCache[[]*models.Receipt](size, ttl),
		loads:    make(map[string]*load),
	}
}

// ListReceiptsByGroup returns the cached snapshot or loads it from the store.
// Callers receive copies and may modify them freely.
func (c *CachedStore) ListReceiptsByGroup(ctx context.Context, groupID string) ([]*models.Receipt, error) {
	if snapshot, ok := c.receipts.Get(groupID); ok {
		return cloneReceipts(snapshot), nil
	}

	gen := c.beginLoad(groupID)
	receipts, err := c.Store.ListReceiptsByGroup(ctx, groupID)

	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.loads[groupID]
	if err == nil && l.gen == gen {
		c.receipts.Set(groupID, cloneReceipts(receipts))
	}
	if l.readers--; l.readers == 0 {
		delete(c.loads, groupID)
	}
	return receipts, err
}

func (c *CachedStore) beginLoad(groupID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.loads[groupID]
	if !ok {
		l = &load{}
		c.loads[groupID] = l
	}
	l.readers++
	return l.gen
}

func (c *CachedStore) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	if err := c.Store.CreateReceipt(ctx, receipt); err != nil {
		return err
	}
	c.invalidate(receipt.GroupID)
	return nil
}

func (c *CachedStore) ReplaceItems(ctx context.Context, receiptID string, items []models.Item) error {
	return c.writeReceipt(ctx, receiptID, func() error {
		return c.Store.ReplaceItems(ctx, receiptID, items)
	})
}

func (c *CachedStore) SetAssignment(ctx context.Context, receiptID, itemID string, assignment models.Assignment) error {
	return c.writeReceipt(ctx, receiptID, func() error {
		return c.Store.SetAssignment(ctx, receiptID, itemID, assignment)
	})
}

func (c *CachedStore) ClearAssignment(ctx context.Context, receiptID, itemID string) error {
	return c.writeReceipt(ctx, receiptID, func() error {
		return c.Store.ClearAssignment(ctx, receiptID, itemID)
	})
}

func (c *CachedStore) SetReceiptStatus(ctx context.Context, receiptID string, status models.ReceiptStatus) error {
	return c.writeReceipt(ctx, receiptID, func() error {
		return c.Store.SetReceiptStatus(ctx, receiptID, status)
	})
}

func (c *CachedStore) DeleteReceipt(ctx context.Context, receiptID string) error {
	return c.writeReceipt(ctx, receiptID, func() error {
		return c.Store.DeleteReceipt(ctx, receiptID)
	})
}

func (c *CachedStore) DeleteGroup(ctx context.Context, groupID string) error {
	if err := c.Store.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	c.invalidate(groupID)
	return nil
}

// writeReceipt runs a write against the store and drops the snapshot of
// the receipt's group, even when the write fails part way.
func (c *CachedStore) writeReceipt(ctx context.Context, receiptID string, write func() error) error {
	r, err := c.Store.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	defer c.invalidate(r.GroupID)
	return write()
}

func (c *CachedStore) invalidate(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.loads[groupID]; ok {
		l.gen++
	}
	c.receipts.Delete(groupID)
}

// Run evicts expired snapshots every interval until ctx is done.
func (c *CachedStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.receipts.CleanExpired(); n > 0 {
				slog.Debug("Evicted expired receipt snapshots", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func cloneReceipts(in []*models.Receipt) []*models.Receipt {
	out := make([]*models.Receipt, len(in))
	for i, r := range in {
		cp := *r
		cp.Items = slices.Clone(r.Items)
		cp.Assignments = make(map[string]models.Assignment, len(r.Assignments))
		for id, a := range r.Assignments {
			a.Shares = slices.Clone(a.Shares)
			cp.Assignments[id] = a
		}
		out[i] = &cp
	}
	return out
}

