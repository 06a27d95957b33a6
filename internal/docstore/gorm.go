package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tradeya/backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps documents as JSON rows in the relational database.
type GormStore struct {
	gormOps
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{gormOps{db: db}}
}

// RunTransaction runs fn in a database transaction. Document reads inside it
// take row locks, so a read-modify-write cannot interleave with another one
// on the same document.
func (s *GormStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormOps{db: tx, forUpdate: rowLocking(tx)})
	})
}

// rowLocking reports whether the dialect needs SELECT ... FOR UPDATE.
// SQLite serializes writers on its own.
func rowLocking(db *gorm.DB) bool {
	return db.Dialector.Name() != "sqlite"
}

// Close is a no-op; the gorm connection is owned by the caller.
func (s *GormStore) Close() error {
	return nil
}

type gormOps struct {
	db        *gorm.DB
	forUpdate bool
}

func (o *gormOps) lookup(ctx context.Context, path string) *gorm.DB {
	tx := o.db.WithContext(ctx).Where("path = ?", path).Limit(1)
	if o.forUpdate {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (o *gormOps) find(ctx context.Context, path string) (*models.Document, error) {
	var docs []models.Document
	if err := o.lookup(ctx, path).Find(&docs).Error; err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return &docs[0], nil
}

func (o *gormOps) Get(ctx context.Context, path string) (*Snapshot, error) {
	if _, err := ParseDoc(path); err != nil {
		return nil, err
	}
	doc, err := o.find(ctx, path)
	if err != nil {
		return nil, err
	}
	return snapshotFromRow(doc)
}

func (o *gormOps) Create(ctx context.Context, path string, data interface{}) error {
	ref, err := ParseDoc(path)
	if err != nil {
		return err
	}
	fields, err := toMap(data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	if _, err := o.find(ctx, path); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	doc := models.Document{
		Path:       ref.Path,
		Parent:     ref.Parent,
		Collection: ref.Collection,
		DocID:      ref.ID,
		Data:       datatypes.JSON(raw),
	}
	if err := o.db.WithContext(ctx).Create(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return err
	}
	return nil
}

func (o *gormOps) Set(ctx context.Context, path string, data interface{}) error {
	ref, err := ParseDoc(path)
	if err != nil {
		return err
	}
	fields, err := toMap(data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := models.Document{
		Path:       ref.Path,
		Parent:     ref.Parent,
		Collection: ref.Collection,
		DocID:      ref.ID,
		Data:       datatypes.JSON(raw),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return o.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&doc).Error
}

func (o *gormOps) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if _, err := ParseDoc(path); err != nil {
		return err
	}
	doc, err := o.find(ctx, path)
	if err != nil {
		return err
	}

	current := map[string]interface{}{}
	if len(doc.Data) > 0 {
		if err := json.Unmarshal(doc.Data, &current); err != nil {
			return fmt.Errorf("docstore: decode %s: %w", path, err)
		}
	}
	merged, err := mergeFields(current, fields)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	return o.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", doc.ID).
		Updates(map[string]interface{}{
			"data":       datatypes.JSON(raw),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (o *gormOps) Delete(ctx context.Context, path string) error {
	if _, err := ParseDoc(path); err != nil {
		return err
	}
	return o.db.WithContext(ctx).Where("path = ?", path).Delete(&models.Document{}).Error
}

func (o *gormOps) Query(ctx context.Context, collectionPath string, q Query) ([]*Snapshot, error) {
	if err := ValidateCollection(collectionPath); err != nil {
		return nil, err
	}
	return o.query(ctx, o.db.WithContext(ctx).Where("parent = ?", collectionPath), q)
}

func (o *gormOps) QueryGroup(ctx context.Context, group string, q Query) ([]*Snapshot, error) {
	if group == "" {
		return nil, fmt.Errorf("%w: empty collection group", ErrInvalidPath)
	}
	return o.query(ctx, o.db.WithContext(ctx).Where("collection = ?", group), q)
}

func (o *gormOps) query(ctx context.Context, tx *gorm.DB, q Query) ([]*Snapshot, error) {
	// String equality is pushed down to the JSON column; everything else is
	// finished in memory by q.apply.
	for _, f := range q.Filters {
		if s, ok := f.Value.(string); ok {
			tx = tx.Where(datatypes.JSONQuery("data").Equals(s, f.Field))
		}
	}

	var docs []models.Document
	if err := tx.Order("id").Find(&docs).Error; err != nil {
		return nil, err
	}

	snaps := make([]*Snapshot, 0, len(docs))
	for i := range docs {
		snap, err := snapshotFromRow(&docs[i])
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return q.apply(snaps), nil
}

func snapshotFromRow(doc *models.Document) (*Snapshot, error) {
	data := map[string]interface{}{}
	if len(doc.Data) > 0 {
		if err := json.Unmarshal(doc.Data, &data); err != nil {
			return nil, fmt.Errorf("docstore: decode %s: %w", doc.Path, err)
		}
	}
	return &Snapshot{
		ID:         doc.DocID,
		Path:       doc.Path,
		Data:       data,
		CreateTime: doc.CreatedAt,
		UpdateTime: doc.UpdatedAt,
	}, nil
}
