package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/metrics"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/internal/utils"
	"github.com/tradeya/backend/pkg/logger"
)

const (
	ChallengeActive = "active"
	ChallengeClosed = "closed"
)

const (
	ParticipationInProgress = "in-progress"
	ParticipationCompleted  = "completed"
	ParticipationAbandoned  = "abandoned"
)

type Challenge struct {
	ID               string    `json:"id"`
	CreatorID        string    `json:"creatorId"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Skills           []string  `json:"skills"`
	XPReward         int       `json:"xpReward"`
	Status           string    `json:"status"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// UserChallenge is one user's participation, stored at
// userChallenges/{userId}_{challengeId}.
type UserChallenge struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	ChallengeID string     `json:"challengeId"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Evidence    []Evidence `json:"evidence"`
	JoinedAt    time.Time  `json:"joinedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type CreateChallengeRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Skills      []string `json:"skills"`
	XPReward    int      `json:"xpReward"`
}

// ChallengeEvent is the outbox payload of challenge events.
type ChallengeEvent struct {
	ChallengeID string   `json:"challengeId"`
	Title       string   `json:"title"`
	UserID      string   `json:"userId"`
	CreatorID   string   `json:"creatorId"`
	XPReward    int      `json:"xpReward"`
	Skills      []string `json:"skills,omitempty"`
}

type ChallengeService struct {
	store  docstore.Store
	outbox *OutboxService
}

func NewChallengeService(store docstore.Store, outbox *OutboxService) *ChallengeService {
	return &ChallengeService{store: store, outbox: outbox}
}

func challengePath(id string) string {
	return docstore.Join("challenges", id)
}

func userChallengeID(userID, challengeID string) string {
	return userID + "_" + challengeID
}

func userChallengePath(userID, challengeID string) string {
	return docstore.Join("userChallenges", userChallengeID(userID, challengeID))
}

func loadChallenge(ctx context.Context, ops docstore.Ops, id string) (*Challenge, error) {
	snap, err := ops.Get(ctx, challengePath(id))
	if err != nil {
		return nil, err
	}
	var c Challenge
	if err := snap.DataTo(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadParticipation(ctx context.Context, ops docstore.Ops, userID, challengeID string) (*UserChallenge, error) {
	snap, err := ops.Get(ctx, userChallengePath(userID, challengeID))
	if err != nil {
		return nil, err
	}
	var uc UserChallenge
	if err := snap.DataTo(&uc); err != nil {
		return nil, err
	}
	return &uc, nil
}

func (s *ChallengeService) CreateChallenge(ctx context.Context, req *CreateChallengeRequest) (*Challenge, error) {
	creator := actorID(ctx)
	if creator == "" {
		return nil, rules.ErrPermissionDenied
	}
	title := utils.SanitizeText(req.Title)
	if title == "" {
		return nil, invalidInput("title is required")
	}
	if req.XPReward < 0 {
		return nil, invalidInput("xp reward must not be negative")
	}

	now := time.Now().UTC()
	c := &Challenge{
		ID:          uuid.NewString(),
		CreatorID:   creator,
		Title:       title,
		Description: utils.SanitizeText(req.Description),
		Skills:      utils.SanitizeList(req.Skills),
		XPReward:    req.XPReward,
		Status:      ChallengeActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, challengePath(c.ID), c); err != nil {
		return nil, fmt.Errorf("create challenge: %w", err)
	}
	return c, nil
}

func (s *ChallengeService) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	return loadChallenge(ctx, s.store, id)
}

// ListChallenges returns challenges newest first, optionally by status.
func (s *ChallengeService) ListChallenges(ctx context.Context, status string, limit int) ([]Challenge, error) {
	q := docstore.Query{}.Order("createdAt", true).Take(limit)
	if status != "" {
		q = q.Where("status", status)
	}
	snaps, err := s.store.Query(ctx, "challenges", q)
	if err != nil {
		return nil, err
	}
	out := make([]Challenge, 0, len(snaps))
	for _, snap := range snaps {
		var c Challenge
		if err := snap.DataTo(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// CloseChallenge stops new joins. Existing participations can still finish.
func (s *ChallengeService) CloseChallenge(ctx context.Context, id string) (*Challenge, error) {
	var c *Challenge
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Ops) error {
		var err error
		if c, err = loadChallenge(ctx, tx, id); err != nil {
			return err
		}
		if c.Status != ChallengeActive {
			return transitionError("challenge", "close", c.Status)
		}
		c.Status = ChallengeClosed
		c.UpdatedAt = time.Now().UTC()
		return tx.Update(ctx, challengePath(id), map[string]interface{}{
			"status":    c.Status,
			"updatedAt": c.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// JoinChallenge reads the caller's participation record before it exists and
// creates it in the same transaction, so a user joins a challenge once.
func (s *ChallengeService) JoinChallenge(ctx context.Context, challengeID string) (*UserChallenge, error) {
	uid := actorID(ctx)
	if uid == "" {
		return nil, rules.ErrPermissionDenied
	}

	var uc *UserChallenge
	err := s.outbox.Transact(ctx, s.store, func(ctx context.Context, tx docstore.Ops, rec *Recorder) error {
		c, err := loadChallenge(ctx, tx, challengeID)
		if err != nil {
			return err
		}
		if c.Status != ChallengeActive {
			return transitionError("challenge", "join", c.Status)
		}

		_, err = tx.Get(ctx, userChallengePath(uid, challengeID))
		switch {
		case err == nil:
			return fmt.Errorf("%w: already joined challenge %s", docstore.ErrAlreadyExists, challengeID)
		case !errors.Is(err, docstore.ErrNotFound):
			return err
		}

		now := time.Now().UTC()
		uc = &UserChallenge{
			ID:          userChallengeID(uid, challengeID),
			UserID:      uid,
			ChallengeID: challengeID,
			Title:       c.Title,
			Status:      ParticipationInProgress,
			Evidence:    []Evidence{},
			JoinedAt:    now,
			UpdatedAt:   now,
		}
		if err := tx.Create(ctx, userChallengePath(uid, challengeID), uc); err != nil {
			return err
		}
		// participants may not write the challenge itself
		if err := tx.Update(rules.ServiceContext(ctx), challengePath(challengeID), map[string]interface{}{
			"participantCount": c.ParticipantCount + 1,
		}); err != nil {
			return err
		}
		return rec.Record(ctx, EventChallengeJoined, challengeID, &ChallengeEvent{
			ChallengeID: challengeID,
			Title:       c.Title,
			UserID:      uid,
			CreatorID:   c.CreatorID,
			XPReward:    c.XPReward,
		})
	})
	if err != nil {
		return nil, err
	}
	return uc, nil
}

// CompleteChallenge finishes the caller's participation. XP follows from the
// challenge.completed event.
func (s *ChallengeService) CompleteChallenge(ctx context.Context, challengeID string, evidence []Evidence) (*UserChallenge, error) {
	return s.finish(ctx, challengeID, ParticipationCompleted, evidence)
}

func (s *ChallengeService) AbandonChallenge(ctx context.Context, challengeID string) (*UserChallenge, error) {
	return s.finish(ctx, challengeID, ParticipationAbandoned, nil)
}

func (s *ChallengeService) finish(ctx context.Context, challengeID, status string, evidence []Evidence) (*UserChallenge, error) {
	uid := actorID(ctx)
	if uid == "" {
		return nil, rules.ErrPermissionDenied
	}

	var uc *UserChallenge
	err := s.outbox.Transact(ctx, s.store, func(ctx context.Context, tx docstore.Ops, rec *Recorder) error {
		var err error
		if uc, err = loadParticipation(ctx, tx, uid, challengeID); err != nil {
			return err
		}
		if uc.Status != ParticipationInProgress {
			return transitionError("challenge", "finish", uc.Status)
		}

		now := time.Now().UTC()
		uc.Status = status
		uc.UpdatedAt = now
		fields := map[string]interface{}{"status": status, "updatedAt": now}
		if status == ParticipationCompleted {
			uc.CompletedAt = &now
			uc.Evidence = sanitizeEvidence(evidence)
			fields["completedAt"] = now
			fields["evidence"] = uc.Evidence
		}
		if err := tx.Update(ctx, userChallengePath(uid, challengeID), fields); err != nil {
			return err
		}
		if status != ParticipationCompleted {
			return nil
		}

		c, err := loadChallenge(ctx, tx, challengeID)
		if err != nil {
			return err
		}
		return rec.Record(ctx, EventChallengeCompleted, challengeID, &ChallengeEvent{
			ChallengeID: challengeID,
			Title:       c.Title,
			UserID:      uid,
			CreatorID:   c.CreatorID,
			XPReward:    c.XPReward,
			Skills:      c.Skills,
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition("challenge", ParticipationInProgress, status)
	logger.Infof("[Challenge] %s %s challenge %s", uid, status, challengeID)
	return uc, nil
}

// ListUserChallenges returns userID's participations, newest first.
func (s *ChallengeService) ListUserChallenges(ctx context.Context, userID, status string) ([]UserChallenge, error) {
	q := docstore.Query{}.Where("userId", userID).Order("joinedAt", true)
	if status != "" {
		q = q.Where("status", status)
	}
	snaps, err := s.store.Query(ctx, "userChallenges", q)
	if err != nil {
		return nil, err
	}
	out := make([]UserChallenge, 0, len(snaps))
	for _, snap := range snaps {
		var uc UserChallenge
		if err := snap.DataTo(&uc); err != nil {
			return nil, err
		}
		out = append(out, uc)
	}
	return out, nil
}
