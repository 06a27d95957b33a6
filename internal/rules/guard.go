package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/metrics"
	"github.com/tradeya/backend/pkg/logger"
)

// Guard is a docstore.Store that authorizes every read and write against a
// rule set, using the identity attached to each call's context.
type Guard struct {
	guardedOps
	store docstore.Store
}

// NewGuard wraps store with rules.
func NewGuard(store docstore.Store, rs *RuleSet) *Guard {
	return &Guard{
		guardedOps: guardedOps{ops: store, rules: rs},
		store:      store,
	}
}

// Unguarded exposes the wrapped store for trusted maintenance code.
func (g *Guard) Unguarded() docstore.Store {
	return g.store
}

func (g *Guard) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return g.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Ops) error {
		return fn(ctx, &guardedOps{ops: tx, rules: g.rules})
	})
}

func (g *Guard) Close() error {
	return g.store.Close()
}

type guardedOps struct {
	ops   docstore.Ops
	rules *RuleSet
}

func (o *guardedOps) authorize(ctx context.Context, op Operation, path string, resource, data map[string]interface{}) error {
	auth := FromContext(ctx)
	decision, err := o.rules.Evaluate(ctx, &Request{
		Auth:     auth,
		Op:       op,
		Path:     path,
		Resource: resource,
		Data:     data,
	}, o.current)
	if err != nil {
		return err
	}
	if decision.Allowed {
		return nil
	}

	collection := ""
	if ref, err := docstore.ParseDoc(path); err == nil {
		collection = ref.Collection
	}
	metrics.RuleDenials.WithLabelValues(string(op), collection).Inc()

	uid := ""
	if auth != nil {
		uid = auth.UID
	}
	logger.Warn().
		Str("op", string(op)).
		Str("path", path).
		Str("uid", uid).
		Msg("[Rules] permission denied")

	return fmt.Errorf("%w: %s %s", ErrPermissionDenied, op, path)
}

// current reads the stored document, returning nil fields when it is missing.
func (o *guardedOps) current(ctx context.Context, path string) (map[string]interface{}, error) {
	snap, err := o.ops.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap.Data, nil
}

func (o *guardedOps) Get(ctx context.Context, path string) (*docstore.Snapshot, error) {
	snap, err := o.ops.Get(ctx, path)
	var resource map[string]interface{}
	switch {
	case err == nil:
		resource = snap.Data
	case !errors.Is(err, docstore.ErrNotFound):
		return nil, err
	}
	if aerr := o.authorize(ctx, OpRead, path, resource, nil); aerr != nil {
		return nil, aerr
	}
	return snap, err
}

func (o *guardedOps) Create(ctx context.Context, path string, data interface{}) error {
	if _, err := docstore.ParseDoc(path); err != nil {
		return err
	}
	fields, err := docstore.Fields(data)
	if err != nil {
		return err
	}
	if err := o.authorize(ctx, OpCreate, path, nil, fields); err != nil {
		return err
	}
	return o.ops.Create(ctx, path, fields)
}

func (o *guardedOps) Set(ctx context.Context, path string, data interface{}) error {
	if _, err := docstore.ParseDoc(path); err != nil {
		return err
	}
	fields, err := docstore.Fields(data)
	if err != nil {
		return err
	}
	resource, err := o.current(ctx, path)
	if err != nil {
		return err
	}
	op := OpUpdate
	if resource == nil {
		op = OpCreate
	}
	if err := o.authorize(ctx, op, path, resource, fields); err != nil {
		return err
	}
	return o.ops.Set(ctx, path, fields)
}

func (o *guardedOps) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if _, err := docstore.ParseDoc(path); err != nil {
		return err
	}
	resource, err := o.current(ctx, path)
	if err != nil {
		return err
	}
	after, err := docstore.Merged(resource, fields)
	if err != nil {
		return err
	}
	if err := o.authorize(ctx, OpUpdate, path, resource, after); err != nil {
		return err
	}
	if resource == nil {
		return docstore.ErrNotFound
	}
	return o.ops.Update(ctx, path, fields)
}

func (o *guardedOps) Delete(ctx context.Context, path string) error {
	if _, err := docstore.ParseDoc(path); err != nil {
		return err
	}
	resource, err := o.current(ctx, path)
	if err != nil {
		return err
	}
	if err := o.authorize(ctx, OpDelete, path, resource, nil); err != nil {
		return err
	}
	if resource == nil {
		return nil
	}
	return o.ops.Delete(ctx, path)
}

// Query fails as a whole when any returned document is not listable by the
// caller, so a query must be narrowed to what the caller may see.
func (o *guardedOps) Query(ctx context.Context, collectionPath string, q docstore.Query) ([]*docstore.Snapshot, error) {
	snaps, err := o.ops.Query(ctx, collectionPath, q)
	if err != nil {
		return nil, err
	}
	if err := o.authorizeList(ctx, snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (o *guardedOps) QueryGroup(ctx context.Context, group string, q docstore.Query) ([]*docstore.Snapshot, error) {
	snaps, err := o.ops.QueryGroup(ctx, group, q)
	if err != nil {
		return nil, err
	}
	if err := o.authorizeList(ctx, snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (o *guardedOps) authorizeList(ctx context.Context, snaps []*docstore.Snapshot) error {
	for _, s := range snaps {
		if err := o.authorize(ctx, OpList, s.Path, s.Data, nil); err != nil {
			return err
		}
	}
	return nil
}
