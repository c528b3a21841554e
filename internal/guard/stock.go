package guard

import (
	"context"
	"gatekeep/internal/types"
)

const stockResourcePrefix = "stock:"

// StockResource is the lock resource id guarding the inventory count of productID.
func StockResource(productID string) string {
	return stockResourcePrefix + productID
}

func (m *ResourceLockManager) AcquireStockLock(ctx context.Context, productID string) (types.Lease, bool) {
	return m.Acquire(ctx, StockResource(productID))
}

// AcquireStockLocks locks the stock of every product of a checkout, all or nothing.
func (m *ResourceLockManager) AcquireStockLocks(ctx context.Context, productIDs []string) ([]types.Lease, bool) {
	ids := make([]string, len(productIDs))
	for i, p := range productIDs {
		ids[i] = StockResource(p)
	}
	return m.AcquireMany(ctx, ids)
}

func (m *ResourceLockManager) ReleaseStockLock(ctx context.Context, productID string) {
	m.Release(ctx, StockResource(productID))
}
