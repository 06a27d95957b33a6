package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/rules"
)

// PortfolioItem showcases a completed trade or challenge on a user's profile.
type PortfolioItem struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Source          string     `json:"source"`
	SourceID        string     `json:"sourceId"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Skills          []string   `json:"skills"`
	CollaboratorIDs []string   `json:"collaboratorIds"`
	Evidence        []Evidence `json:"evidence"`
	Visible         bool       `json:"visible"`
	CompletedAt     time.Time  `json:"completedAt"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type PortfolioService struct {
	store docstore.Store
}

func NewPortfolioService(store docstore.Store) *PortfolioService {
	return &PortfolioService{store: store}
}

func portfolioPath(userID, itemID string) string {
	return docstore.Join("users", userID, "portfolio", itemID)
}

// AddItem stores item once per (source, sourceID). It reports false when the
// item was generated before.
func (s *PortfolioService) AddItem(ctx context.Context, item *PortfolioItem) (bool, error) {
	if item.UserID == "" || item.Source == "" || item.SourceID == "" {
		return false, invalidInput("portfolio item needs a user, source and source id")
	}
	item.ID = item.Source + "_" + item.SourceID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Skills == nil {
		item.Skills = []string{}
	}
	if item.Evidence == nil {
		item.Evidence = []Evidence{}
	}

	err := s.store.Create(rules.ServiceContext(ctx), portfolioPath(item.UserID, item.ID), item)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("add portfolio item %s for %s: %w", item.ID, item.UserID, err)
	}
	return true, nil
}

// List returns the portfolio of userID, newest first. Hidden items are
// included only when includeHidden is set.
func (s *PortfolioService) List(ctx context.Context, userID string, includeHidden bool) ([]PortfolioItem, error) {
	q := docstore.Query{}.Order("completedAt", true)
	if !includeHidden {
		q = q.Where("visible", true)
	}
	snaps, err := s.store.Query(ctx, docstore.Join("users", userID, "portfolio"), q)
	if err != nil {
		return nil, err
	}
	items := make([]PortfolioItem, 0, len(snaps))
	for _, snap := range snaps {
		var item PortfolioItem
		if err := snap.DataTo(&item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Remove deletes an item from the caller's own portfolio.
func (s *PortfolioService) Remove(ctx context.Context, userID, itemID string) error {
	return s.store.Delete(ctx, portfolioPath(userID, itemID))
}
