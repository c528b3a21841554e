package guard

import (
	"context"
	"fmt"
	"gatekeep/internal/metrics"
	"gatekeep/internal/ports"
	"gatekeep/internal/types"

	log "github.com/sirupsen/logrus"
)

// IdempotencyGuard remembers which external references already produced a result so that
// at-least-once deliveries are processed once.
//
// Callers check IsProcessed before a side effect keyed by the reference and call
// MarkProcessed right after the side effect succeeded, never before. Run does both.
type IdempotencyGuard struct {
	store ports.IdempotencyStore
	cfg   types.IdempotencyConfig
	rec   metrics.Recorder
}

func NewIdempotencyGuard(store ports.IdempotencyStore, cfg types.IdempotencyConfig, rec metrics.Recorder) (*IdempotencyGuard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &IdempotencyGuard{
		store: store,
		cfg:   cfg,
		rec:   metrics.OrNoOp(rec),
	}, nil
}

// IsProcessed reports whether reference has a stored result. Store errors read as false.
func (g *IdempotencyGuard) IsProcessed(ctx context.Context, reference string) bool {
	_, ok := g.Lookup(ctx, reference)
	return ok
}

// Lookup returns the stored record of reference.
func (g *IdempotencyGuard) Lookup(ctx context.Context, reference string) (types.IdempotencyRecord, bool) {
	if reference == "" {
		return types.IdempotencyRecord{}, false
	}
	rec, err := g.store.Get(ctx, reference)
	if err != nil {
		g.degraded("lookup", reference, err)
		return types.IdempotencyRecord{}, false
	}
	if rec == nil {
		return types.IdempotencyRecord{}, false
	}
	return *rec, true
}

// MarkProcessed stores resultID for reference unless a record already exists; records are
// never updated. It returns true when this call created the record.
func (g *IdempotencyGuard) MarkProcessed(ctx context.Context, reference, resultID string) bool {
	if reference == "" {
		return false
	}
	created, err := g.store.PutIfAbsent(ctx, types.IdempotencyRecord{
		Reference: reference,
		ResultID:  resultID,
		CreatedAt: timeNow().UTC(),
	}, g.cfg.TTL)
	if err != nil {
		g.degraded("mark", reference, err)
		return false
	}
	if !created {
		log.WithField("reference", reference).Info("reference already marked as processed")
	}
	return created
}

// Run executes fn once per reference. A reference that already has a result returns that
// result with duplicate set and fn is not called. fn's error is returned as is and nothing
// is recorded.
func (g *IdempotencyGuard) Run(ctx context.Context, reference string, fn func(ctx context.Context) (string, error)) (resultID string, duplicate bool, err error) {
	if reference == "" {
		return "", false, fmt.Errorf("empty idempotency reference")
	}
	if rec, ok := g.Lookup(ctx, reference); ok {
		g.rec.Add(metrics.Decisions, 1, map[string]string{"operation": "idempotency", "outcome": Duplicate.String()})
		return rec.ResultID, true, nil
	}
	resultID, err = fn(ctx)
	if err != nil {
		return "", false, err
	}
	if !g.MarkProcessed(ctx, reference, resultID) {
		// A concurrent delivery won the race; report its result.
		if rec, ok := g.Lookup(ctx, reference); ok && rec.ResultID != resultID {
			log.WithFields(log.Fields{
				"reference": reference,
				"stored":    rec.ResultID,
				"result":    resultID,
			}).Warn("reference processed concurrently")
		}
	}
	g.rec.Add(metrics.Decisions, 1, map[string]string{"operation": "idempotency", "outcome": Allowed.String()})
	return resultID, false, nil
}

func (g *IdempotencyGuard) degraded(call, reference string, err error) {
	log.WithError(err).WithFields(log.Fields{
		"component": "idempotency",
		"call":      call,
		"reference": reference,
		"degraded":  true,
	}).Warn("idempotency store unavailable")
	g.rec.Add(metrics.Degraded, 1, map[string]string{"component": "idempotency"})
}
