package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/internal/testutil"
)

var errInjected = errors.New("injected write failure")

// testEnv is a rule-guarded store over a private sqlite database. Events are
// never queued; tests dispatch them explicitly.
type testEnv struct {
	cfg    *config.Config
	raw    docstore.Store
	store  docstore.Store
	outbox *OutboxService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	raw := docstore.NewGormStore(testutil.NewDB(t))
	guard := rules.NewGuard(raw, rules.Default())
	return &testEnv{
		cfg:    cfg,
		raw:    raw,
		store:  guard,
		outbox: NewOutboxService(guard, &cfg.Outbox),
	}
}

func asUser(uid string) context.Context {
	return rules.UserContext(context.Background(), uid, "user")
}

func asAdmin(uid string) context.Context {
	return rules.UserContext(context.Background(), uid, "admin")
}

// eventsOf returns the recorded outbox events of one type, oldest first.
func (e *testEnv) eventsOf(t *testing.T, eventType string) []OutboxEvent {
	t.Helper()
	snaps, err := e.raw.Query(context.Background(), outboxCollection, docstore.Query{}.
		Where("type", eventType).
		Order("createdAt", false))
	require.NoError(t, err)
	out := make([]OutboxEvent, 0, len(snaps))
	for _, s := range snaps {
		var evt OutboxEvent
		require.NoError(t, s.DataTo(&evt))
		out = append(out, evt)
	}
	return out
}

func (e *testEnv) dispatchAll(t *testing.T) {
	t.Helper()
	_, err := e.outbox.DispatchPending(context.Background())
	require.NoError(t, err)
}

func (e *testEnv) exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := e.raw.Get(context.Background(), path)
	if errors.Is(err, docstore.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

// failingStore fails every Create of one path, inside or outside transactions.
type failingStore struct {
	docstore.Store
	failPath string
}

type failingOps struct {
	docstore.Ops
	failPath string
}

func (o failingOps) Create(ctx context.Context, path string, data interface{}) error {
	if path == o.failPath {
		return errInjected
	}
	return o.Ops.Create(ctx, path, data)
}

func (s *failingStore) Create(ctx context.Context, path string, data interface{}) error {
	if path == s.failPath {
		return errInjected
	}
	return s.Store.Create(ctx, path, data)
}

func (s *failingStore) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return s.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Ops) error {
		return fn(ctx, failingOps{Ops: tx, failPath: s.failPath})
	})
}
