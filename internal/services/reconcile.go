package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/metrics"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/pkg/logger"
)

// Reconciliation outcomes for one connection half.
const (
	ReconcileInSync         = "in_sync"
	ReconcileMirrorCreated  = "mirror_created"
	ReconcileStatusRepaired = "status_repaired"
	ReconcileMissing        = "missing"
	ReconcileError          = "error"
)

// ReconcileReport counts outcomes of a reconciliation sweep.
type ReconcileReport struct {
	Checked        int `json:"checked"`
	InSync         int `json:"inSync"`
	MirrorsCreated int `json:"mirrorsCreated"`
	StatusRepaired int `json:"statusRepaired"`
	Missing        int `json:"missing"`
	Errors         int `json:"errors"`
}

func (r *ReconcileReport) add(result string) {
	r.Checked++
	switch result {
	case ReconcileInSync:
		r.InSync++
	case ReconcileMirrorCreated:
		r.MirrorsCreated++
	case ReconcileStatusRepaired:
		r.StatusRepaired++
	case ReconcileMissing:
		r.Missing++
	default:
		r.Errors++
	}
}

// ReconcileService repairs connection halves that drifted apart. It always
// runs as the service identity.
type ReconcileService struct {
	store docstore.Store
}

func NewReconcileService(store docstore.Store) *ReconcileService {
	return &ReconcileService{store: store}
}

// ReconcilePair checks ownerID's half docID against its mirror. A missing
// mirror is created from the owner's half. Differing statuses are settled
// in favour of the half updated last.
func (s *ReconcileService) ReconcilePair(ctx context.Context, ownerID, docID string) (string, error) {
	ctx = rules.ServiceContext(ctx)

	var result string
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Ops) error {
		result = ""
		snap, err := tx.Get(ctx, connectionPath(ownerID, docID))
		if errors.Is(err, docstore.ErrNotFound) {
			result = ReconcileMissing
			return nil
		}
		if err != nil {
			return err
		}
		var own Connection
		if err := snap.DataTo(&own); err != nil {
			return err
		}
		if own.CounterpartUserID == "" {
			return fmt.Errorf("connection %s of %s has no counterpart", docID, ownerID)
		}

		mirrorPath := connectionPath(own.CounterpartUserID, docID)
		msnap, err := tx.Get(ctx, mirrorPath)
		if errors.Is(err, docstore.ErrNotFound) {
			result = ReconcileMirrorCreated
			return tx.Create(ctx, mirrorPath, own.mirror())
		}
		if err != nil {
			return err
		}
		var mirror Connection
		if err := msnap.DataTo(&mirror); err != nil {
			return err
		}

		if mirror.Status == own.Status {
			result = ReconcileInSync
			return nil
		}

		result = ReconcileStatusRepaired
		if own.UpdatedAt.After(mirror.UpdatedAt) {
			return tx.Update(ctx, mirrorPath, map[string]interface{}{
				"status":    own.Status,
				"updatedAt": own.UpdatedAt,
			})
		}
		return tx.Update(ctx, connectionPath(ownerID, docID), map[string]interface{}{
			"status":    mirror.Status,
			"updatedAt": mirror.UpdatedAt,
		})
	})
	if err != nil {
		metrics.Reconciliations.WithLabelValues(ReconcileError).Inc()
		return ReconcileError, fmt.Errorf("reconcile %s/%s: %w", ownerID, docID, err)
	}

	metrics.Reconciliations.WithLabelValues(result).Inc()
	if result != ReconcileInSync {
		logger.Info().
			Str("owner", ownerID).
			Str("connection_id", docID).
			Str("result", result).
			Msg("[Reconcile] connection repaired")
	}
	return result, nil
}

// ReconcileUser checks every connection held by userID.
func (s *ReconcileService) ReconcileUser(ctx context.Context, userID string) (*ReconcileReport, error) {
	snaps, err := s.store.Query(rules.ServiceContext(ctx), connectionsPath(userID), docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("list connections of %s: %w", userID, err)
	}
	report := &ReconcileReport{}
	for _, snap := range snaps {
		result, err := s.ReconcilePair(ctx, userID, snap.ID)
		if err != nil {
			logger.Warnf("[Reconcile] %v", err)
		}
		report.add(result)
	}
	return report, nil
}

// ReconcileAll checks every connection of every user.
func (s *ReconcileService) ReconcileAll(ctx context.Context) (*ReconcileReport, error) {
	snaps, err := s.store.QueryGroup(rules.ServiceContext(ctx), "connections", docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	report := &ReconcileReport{}
	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		segs, err := docstore.Segments(snap.Path)
		if err != nil || len(segs) != 4 || segs[0] != "users" {
			continue
		}
		result, err := s.ReconcilePair(ctx, segs[1], snap.ID)
		if err != nil {
			logger.Warnf("[Reconcile] %v", err)
		}
		report.add(result)
	}
	logger.Infof("[Reconcile] Checked %d connections: %d mirrors created, %d statuses repaired, %d errors",
		report.Checked, report.MirrorsCreated, report.StatusRepaired, report.Errors)
	return report, nil
}
