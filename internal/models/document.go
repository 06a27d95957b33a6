package models

import (
	"time"

	"gorm.io/datatypes"
)

// Document is one row per document of the relational document store backend.
// Parent is the full collection path and Collection its last segment, which
// is what collection-group queries match on.
type Document struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	Path       string         `gorm:"uniqueIndex;size:512;not null" json:"path"`
	Parent     string         `gorm:"index;size:512;not null" json:"parent"`
	Collection string         `gorm:"index;size:128;not null" json:"collection"`
	DocID      string         `gorm:"size:255;not null" json:"doc_id"`
	Data       datatypes.JSON `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (Document) TableName() string { return "documents" }
