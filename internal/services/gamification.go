package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/pkg/logger"
)

const xpCollection = "xpTransactions"

const (
	XPSourceTrade     = "trade"
	XPSourceChallenge = "challenge"
)

// XPTransaction is one append-only entry of a user's XP ledger.
type XPTransaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Amount    int       `json:"amount"`
	Source    string    `json:"source"`
	SourceID  string    `json:"sourceId"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// XPSummary is a user's XP total with the latest ledger entries.
type XPSummary struct {
	UserID       string          `json:"userId"`
	Total        int             `json:"total"`
	Transactions []XPTransaction `json:"transactions"`
}

type GamificationService struct {
	store docstore.Store
	cfg   *config.GamificationConfig
}

func NewGamificationService(store docstore.Store, cfg *config.GamificationConfig) *GamificationService {
	return &GamificationService{store: store, cfg: cfg}
}

func xpTransactionID(userID, source, sourceID string) string {
	return userID + "_" + source + "_" + sourceID
}

// AwardXP credits amount to userID once per (source, sourceID). It reports
// false when the award already exists.
func (s *GamificationService) AwardXP(ctx context.Context, userID string, amount int, source, sourceID, reason string) (bool, error) {
	if userID == "" || source == "" || sourceID == "" {
		return false, invalidInput("xp award needs a user, source and source id")
	}
	if amount <= 0 {
		return false, invalidInput("xp amount must be positive, got %d", amount)
	}

	id := xpTransactionID(userID, source, sourceID)
	err := s.store.Create(rules.ServiceContext(ctx), docstore.Join(xpCollection, id), &XPTransaction{
		ID:        id,
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		SourceID:  sourceID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		logger.Debugf("[XP] %s already awarded", id)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("award xp %s: %w", id, err)
	}
	logger.Infof("[XP] Awarded %d XP to %s for %s %s", amount, userID, source, sourceID)
	return true, nil
}

// TradeCompletionXP is the award for each party of a completed trade.
func (s *GamificationService) TradeCompletionXP() int {
	return s.cfg.TradeCompletionXP
}

// ChallengeXP is the award for completing a challenge, falling back to the
// configured default when the challenge sets none.
func (s *GamificationService) ChallengeXP(reward int) int {
	if reward > 0 {
		return reward
	}
	return s.cfg.ChallengeCompletionXP
}

// GetSummary totals the whole ledger of userID and returns the newest
// limit entries.
func (s *GamificationService) GetSummary(ctx context.Context, userID string, limit int) (*XPSummary, error) {
	snaps, err := s.store.Query(ctx, xpCollection, docstore.Query{}.
		Where("userId", userID).
		Order("createdAt", true))
	if err != nil {
		return nil, fmt.Errorf("list xp of %s: %w", userID, err)
	}

	summary := &XPSummary{UserID: userID, Transactions: []XPTransaction{}}
	for _, snap := range snaps {
		var tx XPTransaction
		if err := snap.DataTo(&tx); err != nil {
			return nil, err
		}
		summary.Total += tx.Amount
		if limit <= 0 || len(summary.Transactions) < limit {
			summary.Transactions = append(summary.Transactions, tx)
		}
	}
	return summary, nil
}
