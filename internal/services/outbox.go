package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/metrics"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/pkg/logger"
)

const outboxCollection = "outbox"

const (
	OutboxPending    = "pending"
	OutboxDispatched = "dispatched"
	OutboxFailed     = "failed"
)

// Event types recorded in the outbox.
const (
	EventRelationshipCreated       = "relationship.created"
	EventRelationshipAccepted      = "relationship.accepted"
	EventRelationshipRejected      = "relationship.rejected"
	EventRelationshipMirrorMissing = "relationship.mirror_missing"
	EventRelationshipPartialWrite  = "relationship.partial_write"

	EventProposalSubmitted   = "trade.proposal_submitted"
	EventProposalAccepted    = "trade.proposal_accepted"
	EventProposalRejected    = "trade.proposal_rejected"
	EventTradeStarted        = "trade.started"
	EventCompletionSubmitted = "trade.completion_submitted"
	EventChangesRequested    = "trade.changes_requested"
	EventTradeCompleted      = "trade.completed"
	EventTradeCancelled      = "trade.cancelled"
	EventTradeDisputed       = "trade.disputed"
	EventCompletionReminder  = "trade.completion_reminder"

	EventChallengeJoined    = "challenge.joined"
	EventChallengeCompleted = "challenge.completed"
)

// OutboxEvent is a domain event stored in the same transaction as the state
// change that produced it.
type OutboxEvent struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AggregateID  string          `json:"aggregateId"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	Handled      []string        `json:"handled"`
	LastError    string          `json:"lastError,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	DispatchedAt *time.Time      `json:"dispatchedAt,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e *OutboxEvent) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}

func (e *OutboxEvent) handled(name string) bool {
	for _, h := range e.Handled {
		if h == name {
			return true
		}
	}
	return false
}

func outboxPath(id string) string {
	return docstore.Join(outboxCollection, id)
}

// SideEffectHandler reacts to a committed event. Handlers must be idempotent:
// an event is redelivered until every handler has succeeded once.
type SideEffectHandler func(ctx context.Context, evt *OutboxEvent) error

type namedHandler struct {
	name string
	fn   SideEffectHandler
}

type OutboxService struct {
	store       docstore.Store
	queue       TaskQueue
	maxAttempts int
	batchSize   int

	mu       sync.RWMutex
	handlers map[string][]namedHandler
}

func NewOutboxService(store docstore.Store, cfg *config.OutboxConfig) *OutboxService {
	maxAttempts, batchSize := cfg.MaxAttempts, cfg.BatchSize
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxService{
		store:       store,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		handlers:    make(map[string][]namedHandler),
	}
}

// SetQueue sets where committed events are sent. Without a queue events wait
// for the periodic sweep.
func (s *OutboxService) SetQueue(q TaskQueue) {
	s.queue = q
}

// Handle registers fn under name for eventType.
func (s *OutboxService) Handle(eventType, name string, fn SideEffectHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventType] = append(s.handlers[eventType], namedHandler{name: name, fn: fn})
}

func (s *OutboxService) handlersFor(eventType string) []namedHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]namedHandler(nil), s.handlers[eventType]...)
}

// Record stores a pending event through tx.
func (s *OutboxService) Record(ctx context.Context, tx docstore.Ops, eventType, aggregateID string, payload interface{}) (*OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	evt := &OutboxEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     raw,
		Status:      OutboxPending,
		Handled:     []string{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.Create(ctx, outboxPath(evt.ID), evt); err != nil {
		return nil, fmt.Errorf("record %s event: %w", eventType, err)
	}
	return evt, nil
}

// Publish hands committed events to the task queue. Failures only delay
// dispatch until the next sweep.
func (s *OutboxService) Publish(events ...*OutboxEvent) {
	if s.queue == nil {
		return
	}
	for _, evt := range events {
		if err := s.queue.Enqueue(&OutboxTask{EventID: evt.ID, EventType: evt.Type}); err != nil {
			logger.Warnf("[Outbox] Enqueue %s (%s) failed, leaving it for the sweep: %v", evt.ID, evt.Type, err)
		}
	}
}

// Recorder collects the events of one transaction.
type Recorder struct {
	outbox *OutboxService
	tx     docstore.Ops
	events []*OutboxEvent
}

func (r *Recorder) Record(ctx context.Context, eventType, aggregateID string, payload interface{}) error {
	evt, err := r.outbox.Record(ctx, r.tx, eventType, aggregateID, payload)
	if err != nil {
		return err
	}
	r.events = append(r.events, evt)
	return nil
}

// Transact runs fn in a store transaction and publishes the events recorded
// through rec once the transaction has committed.
func (s *OutboxService) Transact(ctx context.Context, store docstore.Store, fn func(ctx context.Context, tx docstore.Ops, rec *Recorder) error) error {
	var rec *Recorder
	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Ops) error {
		// a retried transaction starts over with no events
		rec = &Recorder{outbox: s, tx: tx}
		return fn(ctx, tx, rec)
	})
	if err != nil {
		return err
	}
	s.Publish(rec.events...)
	return nil
}

// Process is the task queue entry point.
func (s *OutboxService) Process(ctx context.Context, task *OutboxTask) error {
	return s.Dispatch(ctx, task.EventID)
}

// Dispatch runs the handlers of a pending event that have not yet succeeded.
// Handler failures are recorded on the event, never returned.
func (s *OutboxService) Dispatch(ctx context.Context, eventID string) error {
	ctx = rules.ServiceContext(ctx)
	path := outboxPath(eventID)

	snap, err := s.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		logger.Warnf("[Outbox] Event %s not found", eventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}

	var evt OutboxEvent
	if err := snap.DataTo(&evt); err != nil {
		return fmt.Errorf("decode event %s: %w", eventID, err)
	}
	if evt.Status != OutboxPending {
		return nil
	}

	var failures []string
	for _, h := range s.handlersFor(evt.Type) {
		if evt.handled(h.name) {
			continue
		}
		if err := runHandler(ctx, h, &evt); err != nil {
			metrics.SideEffectFailures.WithLabelValues(h.name).Inc()
			logger.Warn().
				Str("event_id", evt.ID).
				Str("event_type", evt.Type).
				Str("handler", h.name).
				Err(err).
				Msg("[Outbox] side effect failed")
			failures = append(failures, h.name+": "+err.Error())
			continue
		}
		evt.Handled = append(evt.Handled, h.name)
	}

	evt.Attempts++
	fields := map[string]interface{}{
		"attempts": evt.Attempts,
		"handled":  evt.Handled,
	}
	switch {
	case len(failures) == 0:
		now := time.Now().UTC()
		fields["status"] = OutboxDispatched
		fields["dispatchedAt"] = now
		fields["lastError"] = ""
		metrics.OutboxEvents.WithLabelValues(evt.Type, OutboxDispatched).Inc()
	case evt.Attempts >= s.maxAttempts:
		fields["status"] = OutboxFailed
		fields["lastError"] = strings.Join(failures, "; ")
		metrics.OutboxEvents.WithLabelValues(evt.Type, OutboxFailed).Inc()
		logger.Errorf("[Outbox] Event %s (%s) failed after %d attempts", evt.ID, evt.Type, evt.Attempts)
	default:
		fields["lastError"] = strings.Join(failures, "; ")
	}

	if err := s.store.Update(ctx, path, fields); err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

func runHandler(ctx context.Context, h namedHandler, evt *OutboxEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.fn(ctx, evt)
}

// DispatchPending sweeps the oldest pending events and returns how many it
// processed.
func (s *OutboxService) DispatchPending(ctx context.Context) (int, error) {
	ctx = rules.ServiceContext(ctx)
	snaps, err := s.store.Query(ctx, outboxCollection, docstore.Query{}.
		Where("status", OutboxPending).
		Order("createdAt", false).
		Take(s.batchSize))
	if err != nil {
		return 0, fmt.Errorf("list pending events: %w", err)
	}

	processed := 0
	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := s.Dispatch(ctx, snap.ID); err != nil {
			logger.Errorf("[Outbox] Dispatch %s: %v", snap.ID, err)
			continue
		}
		processed++
	}
	return processed, nil
}

// ListEvents returns recent events, optionally filtered by status.
func (s *OutboxService) ListEvents(ctx context.Context, status string, limit int) ([]OutboxEvent, error) {
	q := docstore.Query{}.Order("createdAt", true).Take(limit)
	if status != "" {
		q = q.Where("status", status)
	}
	snaps, err := s.store.Query(ctx, outboxCollection, q)
	if err != nil {
		return nil, err
	}
	events := make([]OutboxEvent, 0, len(snaps))
	for _, snap := range snaps {
		var evt OutboxEvent
		if err := snap.DataTo(&evt); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// Retry puts a failed event back in the pending state.
func (s *OutboxService) Retry(ctx context.Context, eventID string) error {
	err := s.store.Update(ctx, outboxPath(eventID), map[string]interface{}{
		"status":   OutboxPending,
		"attempts": 0,
	})
	if err != nil {
		return err
	}
	s.Publish(&OutboxEvent{ID: eventID})
	return nil
}
