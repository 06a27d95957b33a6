package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/metrics"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/internal/utils"
	"github.com/tradeya/backend/pkg/logger"
)

const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
	ConnectionRejected = "rejected"
)

// Connection is one user's half of a mirrored relationship. Both halves
// share the ID {initiatorUserId}_{counterpartId}.
type Connection struct {
	ID                string    `json:"id"`
	OwnerUserID       string    `json:"ownerUserId"`
	CounterpartUserID string    `json:"counterpartUserId"`
	InitiatorUserID   string    `json:"initiatorUserId"`
	Status            string    `json:"status"`
	Message           string    `json:"message"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// mirror returns the counterpart's half of c.
func (c *Connection) mirror() *Connection {
	m := *c
	m.OwnerUserID, m.CounterpartUserID = c.CounterpartUserID, c.OwnerUserID
	return &m
}

type CreateConnectionRequest struct {
	Message string `json:"message"`
}

// StatusUpdateResult describes what UpdateRelationshipStatus changed.
type StatusUpdateResult struct {
	Connection     *Connection `json:"connection"`
	MirrorsUpdated int         `json:"mirrorsUpdated"`
	MirrorMissing  bool        `json:"mirrorMissing"`
	Deleted        bool        `json:"deleted"`
}

// RelationshipEvent is the outbox payload of connection events.
type RelationshipEvent struct {
	ConnectionID      string `json:"connectionId"`
	OwnerUserID       string `json:"ownerUserId"`
	CounterpartUserID string `json:"counterpartUserId"`
	InitiatorUserID   string `json:"initiatorUserId"`
	ActorUserID       string `json:"actorUserId"`
	Status            string `json:"status"`
}

type RelationshipService struct {
	store  docstore.Store
	outbox *OutboxService
	cfg    *config.RelationshipConfig
}

func NewRelationshipService(store docstore.Store, outbox *OutboxService, cfg *config.RelationshipConfig) *RelationshipService {
	return &RelationshipService{store: store, outbox: outbox, cfg: cfg}
}

func connectionID(initiatorID, counterpartID string) string {
	return initiatorID + "_" + counterpartID
}

func connectionsPath(userID string) string {
	return docstore.Join("users", userID, "connections")
}

func connectionPath(userID, id string) string {
	return docstore.Join("users", userID, "connections", id)
}

func actorID(ctx context.Context) string {
	if auth := rules.FromContext(ctx); auth != nil {
		return auth.UID
	}
	return ""
}

func isPrivileged(ctx context.Context) bool {
	return rules.FromContext(ctx).IsAdmin()
}

// CreateRelationship writes the initiator's and the counterpart's halves of
// a new pending connection.
func (s *RelationshipService) CreateRelationship(ctx context.Context, initiatorID, counterpartID string, req *CreateConnectionRequest) (*Connection, error) {
	if initiatorID == "" || counterpartID == "" {
		return nil, invalidInput("both users are required")
	}
	if initiatorID == counterpartID {
		return nil, ErrSelfRelationship
	}

	now := time.Now().UTC()
	own := &Connection{
		ID:                connectionID(initiatorID, counterpartID),
		OwnerUserID:       initiatorID,
		CounterpartUserID: counterpartID,
		InitiatorUserID:   initiatorID,
		Status:            ConnectionPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req != nil {
		own.Message = utils.SanitizeText(req.Message)
	}
	mirror := own.mirror()

	if s.cfg.WriteMode == config.WriteModeDualWrite {
		if err := s.createDualWrite(ctx, own, mirror); err != nil {
			// the initiator's half exists after a partial write
			var partial *PartialWriteError
			if errors.As(err, &partial) {
				return own, err
			}
			return nil, err
		}
		return own, nil
	}

	err := s.outbox.Transact(ctx, s.store, func(ctx context.Context, tx docstore.Ops, rec *Recorder) error {
		if err := s.ensureNoConnection(ctx, tx, initiatorID, counterpartID); err != nil {
			return err
		}
		if err := tx.Create(ctx, connectionPath(initiatorID, own.ID), own); err != nil {
			return err
		}
		if err := tx.Create(ctx, connectionPath(counterpartID, own.ID), mirror); err != nil {
			return err
		}
		return rec.Record(ctx, EventRelationshipCreated, own.ID, relationshipEvent(ctx, own))
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return nil, ErrRelationshipExists
	}
	if err != nil {
		return nil, err
	}

	logger.Infof("[Relationship] %s created connection %s", initiatorID, own.ID)
	return own, nil
}

// createDualWrite writes the two halves independently. A failed second write
// leaves the first in place and records an event for reconciliation.
func (s *RelationshipService) createDualWrite(ctx context.Context, own, mirror *Connection) error {
	if err := s.ensureNoConnection(ctx, s.store, own.OwnerUserID, own.CounterpartUserID); err != nil {
		return err
	}

	ownPath := connectionPath(own.OwnerUserID, own.ID)
	mirrorPath := connectionPath(mirror.OwnerUserID, mirror.ID)

	if err := s.store.Create(ctx, ownPath, own); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return ErrRelationshipExists
		}
		return err
	}

	if err := s.store.Create(ctx, mirrorPath, mirror); err != nil {
		metrics.PartialWrites.Inc()
		logger.Warn().
			Str("connection_id", own.ID).
			Str("written", ownPath).
			Str("missing", mirrorPath).
			Err(err).
			Msg("[Relationship] mirror write failed")

		recErr := s.outbox.Transact(ctx, s.store, func(ctx context.Context, tx docstore.Ops, rec *Recorder) error {
			return rec.Record(ctx, EventRelationshipPartialWrite, own.ID, relationshipEvent(ctx, own))
		})
		if recErr != nil {
			logger.Errorf("[Relationship] Could not record partial write of %s: %v", own.ID, recErr)
		}
		return &PartialWriteError{Written: []string{ownPath}, Missing: []string{mirrorPath}, Err: err}
	}

	return s.outbox.Transact(ctx, s.store, func(ctx context.Context, tx docstore.Ops, rec *Recorder) error {
		return rec.Record(ctx, EventRelationshipCreated, own.ID, relationshipEvent(ctx, own))
	})
}

// ensureNoConnection fails when either user already holds a connection to
// the other. The counterpart's {counterpart}_{initiator} half is not read:
// it only exists alongside the initiator's copy of the same ID.
func (s *RelationshipService) ensureNoConnection(ctx context.Context, ops docstore.Ops, initiatorID, counterpartID string) error {
	paths := []string{
		connectionPath(initiatorID, connectionID(initiatorID, counterpartID)),
		connectionPath(initiatorID, connectionID(counterpartID, initiatorID)),
		connectionPath(counterpartID, connectionID(initiatorID, counterpartID)),
	}
	for _, p := range paths {
		_, err := ops.Get(ctx, p)
		if err == nil {
			return ErrRelationshipExists
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
	}
	return nil
}

// findOwned returns ownerID's half of the connection with otherID,
// whichever of them initiated it.
func (s *RelationshipService) findOwned(ctx context.Context, ops docstore.Ops, ownerID, otherID string) (*Connection, error) {
	for _, id := range []string{connectionID(ownerID, otherID), connectionID(otherID, ownerID)} {
		snap, err := ops.Get(ctx, connectionPath(ownerID, id))
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var c Connection
		if err := snap.DataTo(&c); err != nil {
			return nil, err
		}
		return &c, nil
	}
	return nil, docstore.ErrNotFound
}

// UpdateRelationshipStatus moves ownerID's connection with counterpartID out
// of pending and applies the same change to every mirror found in the
// counterpart's subcollection. A missing mirror does not fail the call.
func (s *RelationshipService) UpdateRelationshipStatus(ctx context.Context, ownerID, counterpartID, newStatus string) (*StatusUpdateResult, error) {
	if newStatus != ConnectionAccepted && newStatus != ConnectionRejected {
		return nil, invalidInput("status must be %q or %q", ConnectionAccepted, ConnectionRejected)
	}
	actor := actorID(ctx)
	deleteOnReject := newStatus == ConnectionRejected && s.cfg.RejectPolicy == config.RejectPolicyDelete

	var result *StatusUpdateResult
	err := s.outbox.Transact(ctx, s.store, func(ctx context.Context, tx docstore.Ops, rec *Recorder) error {
		conn, err := s.findOwned(ctx, tx, ownerID, counterpartID)
		if err != nil {
			return err
		}
		if conn.Status != ConnectionPending {
			return transitionError("connection", "set "+newStatus+" on", conn.Status)
		}
		if newStatus == ConnectionAccepted && actor == conn.InitiatorUserID && !isPrivileged(ctx) {
			return fmt.Errorf("%w: the initiator cannot accept their own request", ErrInvalidTransition)
		}

		now := time.Now().UTC()
		conn.Status = newStatus
		conn.UpdatedAt = now
		fields := map[string]interface{}{"status": newStatus, "updatedAt": now}
		result = &StatusUpdateResult{Connection: conn, Deleted: deleteOnReject}

		ownPath := connectionPath(ownerID, conn.ID)
		if deleteOnReject {
			err = tx.Delete(ctx, ownPath)
		} else {
			err = tx.Update(ctx, ownPath, fields)
		}
		if err != nil {
			return err
		}

		mirrors, err := tx.Query(ctx, connectionsPath(counterpartID), docstore.Query{}.Where("counterpartUserId", ownerID))
		if err != nil {
			return err
		}
		for _, m := range mirrors {
			if deleteOnReject {
				err = tx.Delete(ctx, m.Path)
			} else {
				err = tx.Update(ctx, m.Path, fields)
			}
			if err != nil {
				return err
			}
			result.MirrorsUpdated++
		}

		payload := relationshipEvent(ctx, conn)
		if len(mirrors) == 0 && !deleteOnReject {
			result.MirrorMissing = true
			metrics.MirrorMissing.Inc()
			logger.Warn().
				Str("connection_id", conn.ID).
				Str("owner", ownerID).
				Str("counterpart", counterpartID).
				Msg("[Relationship] mirror record missing, owner half updated alone")
			if err := rec.Record(ctx, EventRelationshipMirrorMissing, conn.ID, payload); err != nil {
				return err
			}
		}

		eventType := EventRelationshipAccepted
		if newStatus == ConnectionRejected {
			eventType = EventRelationshipRejected
		}
		return rec.Record(ctx, eventType, conn.ID, payload)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition("connection", ConnectionPending, newStatus)
	return result, nil
}

// RemoveRelationship deletes both halves of userID's connection with otherID.
func (s *RelationshipService) RemoveRelationship(ctx context.Context, userID, otherID string) error {
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Ops) error {
		conn, err := s.findOwned(ctx, tx, userID, otherID)
		if err != nil {
			return err
		}
		mirrors, err := tx.Query(ctx, connectionsPath(otherID), docstore.Query{}.Where("counterpartUserId", userID))
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, connectionPath(userID, conn.ID)); err != nil {
			return err
		}
		for _, m := range mirrors {
			if err := tx.Delete(ctx, m.Path); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRelationship returns userID's half of the connection with otherID.
func (s *RelationshipService) GetRelationship(ctx context.Context, userID, otherID string) (*Connection, error) {
	return s.findOwned(ctx, s.store, userID, otherID)
}

// ListRelationships lists userID's connections, newest first.
func (s *RelationshipService) ListRelationships(ctx context.Context, userID, status string) ([]Connection, error) {
	q := docstore.Query{}.Order("createdAt", true)
	if status != "" {
		q = q.Where("status", status)
	}
	snaps, err := s.store.Query(ctx, connectionsPath(userID), q)
	if err != nil {
		return nil, err
	}
	out := make([]Connection, 0, len(snaps))
	for _, snap := range snaps {
		var c Connection
		if err := snap.DataTo(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func relationshipEvent(ctx context.Context, c *Connection) *RelationshipEvent {
	return &RelationshipEvent{
		ConnectionID:      c.ID,
		OwnerUserID:       c.OwnerUserID,
		CounterpartUserID: c.CounterpartUserID,
		InitiatorUserID:   c.InitiatorUserID,
		ActorUserID:       actorID(ctx),
		Status:            c.Status,
	}
}
