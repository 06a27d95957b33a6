package docstore

import (
	"context"
	"fmt"

	"github.com/tradeya/backend/internal/config"
	"gorm.io/gorm"
)

// Open returns the store backend selected in cfg. The gorm backend reuses db.
func Open(ctx context.Context, cfg *config.DocStoreConfig, db *gorm.DB) (Store, error) {
	switch cfg.Backend {
	case "", "gorm":
		if db == nil {
			return nil, fmt.Errorf("docstore: gorm backend requires a database connection")
		}
		return NewGormStore(db), nil
	case "mongo":
		return NewMongoStore(ctx, &cfg.Mongo)
	default:
		return nil, fmt.Errorf("docstore: unsupported backend %q", cfg.Backend)
	}
}
