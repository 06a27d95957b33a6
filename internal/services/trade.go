package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/metrics"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/internal/utils"
	"github.com/tradeya/backend/pkg/logger"
)

const (
	TradeOpen                = "open"
	TradeProposed            = "proposed"
	TradeAccepted            = "accepted"
	TradeInProgress          = "in-progress"
	TradePendingConfirmation = "pending-confirmation"
	TradeChangeRequested     = "change-requested"
	TradeCompleted           = "completed"
	TradeCancelled           = "cancelled"
	TradeDisputed            = "disputed"
)

const (
	ProposalPending  = "pending"
	ProposalAccepted = "accepted"
	ProposalRejected = "rejected"
)

const (
	ChangeRequestPending   = "pending"
	ChangeRequestAddressed = "addressed"
	ChangeRequestRejected  = "rejected"
)

// tradeTransitions lists the statuses reachable from each non-terminal status.
var tradeTransitions = map[string][]string{
	TradeOpen:                {TradeProposed, TradeCancelled},
	TradeProposed:            {TradeOpen, TradeAccepted, TradeCancelled},
	TradeAccepted:            {TradeInProgress, TradeCancelled, TradeDisputed},
	TradeInProgress:          {TradePendingConfirmation, TradeCancelled, TradeDisputed},
	TradePendingConfirmation: {TradeCompleted, TradeChangeRequested, TradeDisputed},
	TradeChangeRequested:     {TradePendingConfirmation, TradeDisputed},
}

// CanTransitionTrade reports whether a trade may move from one status to another.
func CanTransitionTrade(from, to string) bool {
	for _, s := range tradeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Evidence references externally hosted proof of work.
type Evidence struct {
	Type  string `json:"type"` // image, video, link, document
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ChangeRequest is one entry of a trade's append-only revision history.
type ChangeRequest struct {
	ID          string     `json:"id"`
	Reason      string     `json:"reason"`
	RequestedBy string     `json:"requestedBy"`
	RequestedAt time.Time  `json:"requestedAt"`
	Status      string     `json:"status"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

type Trade struct {
	ID                    string          `json:"id"`
	CreatorID             string          `json:"creatorId"`
	Title                 string          `json:"title"`
	Description           string          `json:"description"`
	SkillsOffered         []string        `json:"skillsOffered"`
	SkillsWanted          []string        `json:"skillsWanted"`
	Status                string          `json:"status"`
	ParticipantID         string          `json:"participantId"`
	AcceptedProposalID    string          `json:"acceptedProposalId"`
	CompletionSubmittedBy string          `json:"completionSubmittedBy"`
	CompletionSubmittedAt *time.Time      `json:"completionSubmittedAt,omitempty"`
	CompletionNotes       string          `json:"completionNotes,omitempty"`
	CompletionEvidence    []Evidence      `json:"completionEvidence"`
	ChangeRequests        []ChangeRequest `json:"changeRequests"`
	ReminderSentAt        *time.Time      `json:"reminderSentAt,omitempty"`
	CompletedAt           *time.Time      `json:"completedAt,omitempty"`
	CompletedBy           string          `json:"completedBy,omitempty"`
	CancelledAt           *time.Time      `json:"cancelledAt,omitempty"`
	CancelledBy           string          `json:"cancelledBy,omitempty"`
	DisputeReason         string          `json:"disputeReason,omitempty"`
	DisputedBy            string          `json:"disputedBy,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

func (t *Trade) isParty(uid string) bool {
	return uid != "" && (uid == t.CreatorID || uid == t.ParticipantID)
}

func (t *Trade) otherParty(uid string) string {
	if uid == t.CreatorID {
		return t.ParticipantID
	}
	return t.CreatorID
}

func (t *Trade) moveTo(to, op string) error {
	if !CanTransitionTrade(t.Status, to) {
		return transitionError("trade", op, t.Status)
	}
	t.Status = to
	return nil
}

// Proposal is an offer to take part in a trade. Its ID is
// {proposerUserId}_{tradeId}, so each user proposes at most once per trade.
type Proposal struct {
	ID             string     `json:"id"`
	TradeID        string     `json:"tradeId"`
	ProposerUserID string     `json:"proposerUserId"`
	TradeCreatorID string     `json:"tradeCreatorId"`
	Status         string     `json:"status"`
	Message        string     `json:"message"`
	SkillsOffered  []string   `json:"skillsOffered"`
	SkillsWanted   []string   `json:"skillsWanted"`
	Evidence       []Evidence `json:"evidence"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type CreateTradeRequest struct {
	Title         string   `json:"title" binding:"required"`
	Description   string   `json:"description"`
	SkillsOffered []string `json:"skillsOffered"`
	SkillsWanted  []string `json:"skillsWanted"`
}

type ProposalRequest struct {
	Message       string     `json:"message"`
	SkillsOffered []string   `json:"skillsOffered"`
	SkillsWanted  []string   `json:"skillsWanted"`
	Evidence      []Evidence `json:"evidence"`
}

type CompletionRequest struct {
	Notes    string     `json:"notes"`
	Evidence []Evidence `json:"evidence"`
}

// TradeFilter narrows ListTrades. UserID matches either party.
type TradeFilter struct {
	Status string
	UserID string
	Limit  int
}

// TradeEvent is the outbox payload of trade events.
type TradeEvent struct {
	TradeID       string   `json:"tradeId"`
	Title         string   `json:"title"`
	CreatorID     string   `json:"creatorId"`
	ParticipantID string   `json:"participantId"`
	ActorID       string   `json:"actorId"`
	ProposalID    string   `json:"proposalId,omitempty"`
	ProposerID    string   `json:"proposerId,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Status        string   `json:"status"`
	Skills        []string `json:"skills,omitempty"`
}

// AutoCompleteReport summarizes one overdue-confirmation sweep.
type AutoCompleteReport struct {
	Reminded  int `json:"reminded"`
	Completed int `json:"completed"`
}

type TradeService struct {
	store  docstore.Store
	outbox *OutboxService
	cfg    *config.TradeConfig
}

func NewTradeService(store docstore.Store, outbox *OutboxService, cfg *config.TradeConfig) *TradeService {
	return &TradeService{store: store, outbox: outbox, cfg: cfg}
}

func tradePath(id string) string {
	return docstore.Join("trades", id)
}

func proposalID(proposerID, tradeID string) string {
	return proposerID + "_" + tradeID
}

func proposalPath(tradeID, id string) string {
	return docstore.Join("trades", tradeID, "proposals", id)
}

func userProposalPath(userID, id string) string {
	return docstore.Join("users", userID, "proposals", id)
}

func loadTrade(ctx context.Context, ops docstore.Ops, id string) (*Trade, error) {
	snap, err := ops.Get(ctx, tradePath(id))
	if err != nil {
		return nil, err
	}
	var t Trade
	if err := snap.DataTo(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

func loadProposal(ctx context.Context, ops docstore.Ops, tradeID, id string) (*Proposal, error) {
	snap, err := ops.Get(ctx, proposalPath(tradeID, id))
	if err != nil {
		return nil, err
	}
	var p Proposal
	if err := snap.DataTo(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func requireParty(ctx context.Context, t *Trade) error {
	if t.isParty(actorID(ctx)) || isPrivileged(ctx) {
		return nil
	}
	return fmt.Errorf("%w: not a party to trade %s", rules.ErrPermissionDenied, t.ID)
}

func requireCreator(ctx context.Context, t *Trade) error {
	if actorID(ctx) == t.CreatorID || isPrivileged(ctx) {
		return nil
	}
	return fmt.Errorf("%w: only the creator may do this on trade %s", rules.ErrPermissionDenied, t.ID)
}

func tradeEvent(ctx context.Context, t *Trade) *TradeEvent {
	return &TradeEvent{
		TradeID:       t.ID,
		Title:         t.Title,
		CreatorID:     t.CreatorID,
		ParticipantID: t.ParticipantID,
		ActorID:       actorID(ctx),
		Status:        t.Status,
	}
}

// errTradeUnchanged lets a mutate callback leave the trade as it found it.
var errTradeUnchanged = errors.New("trade unchanged")

// mutate loads a trade in a transaction, applies fn and writes it back.
// The status change is counted once the transaction commits. When fn
// returns errTradeUnchanged nothing is written and mutate returns it.
func (s *TradeService) mutate(ctx context.Context, tradeID string, fn func(ctx context.Context, tx docstore.Ops, rec *Recorder, t *Trade) error) (*Trade, error) {
	var (
		out  *Trade
		from string
	)
	err := s.outbox.Transact(ctx, s.store, func(ctx context.Context, tx docstore.Ops, rec *Recorder) error {
		t, err := loadTrade(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		from = t.Status
		if err := fn(ctx, tx, rec, t); err != nil {
			return err
		}
		t.UpdatedAt = time.Now().UTC()
		if err := tx.Set(ctx, tradePath(t.ID), t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Status != from {
		metrics.RecordTransition("trade", from, out.Status)
		logger.Infof("[Trade] %s: %s -> %s", out.ID, from, out.Status)
	}
	return out, nil
}

// CreateTrade opens a new trade owned by the caller.
func (s *TradeService) CreateTrade(ctx context.Context, req *CreateTradeRequest) (*Trade, error) {
	creator := actorID(ctx)
	if creator == "" {
		return nil, rules.ErrPermissionDenied
	}
	title := utils.SanitizeText(req.Title)
	if title == "" {
		return nil, invalidInput("title is required")
	}

	now := time.Now().UTC()
	t := &Trade{
		ID:                 uuid.NewString(),
		CreatorID:          creator,
		Title:              title,
		Description:        utils.SanitizeText(req.Description),
		SkillsOffered:      utils.SanitizeList(req.SkillsOffered),
		SkillsWanted:       utils.SanitizeList(req.SkillsWanted),
		Status:             TradeOpen,
		CompletionEvidence: []Evidence{},
		ChangeRequests:     []ChangeRequest{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, tradePath(t.ID), t); err != nil {
		return nil, fmt.Errorf("create trade: %w", err)
	}
	return t, nil
}

func (s *TradeService) GetTrade(ctx context.Context, id string) (*Trade, error) {
	return loadTrade(ctx, s.store, id)
}

// ListTrades returns trades newest first.
func (s *TradeService) ListTrades(ctx context.Context, f TradeFilter) ([]Trade, error) {
	base := docstore.Query{}
	if f.Status != "" {
		base = base.Where("status", f.Status)
	}

	var queries []docstore.Query
	if f.UserID != "" {
		queries = append(queries, base.Where("creatorId", f.UserID), base.Where("participantId", f.UserID))
	} else {
		queries = append(queries, base)
	}

	seen := map[string]bool{}
	var out []Trade
	for _, q := range queries {
		snaps, err := s.store.Query(ctx, "trades", q)
		if err != nil {
			return nil, err
		}
		for _, snap := range snaps {
			if seen[snap.ID] {
				continue
			}
			seen[snap.ID] = true
			var t Trade
			if err := snap.DataTo(&t); err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SubmitProposal records the caller's offer on an open trade and writes the
// proposer's projection in the same transaction.
func (s *TradeService) SubmitProposal(ctx context.Context, tradeID string, req *ProposalRequest) (*Proposal, error) {
	proposer := actorID(ctx)
	if proposer == "" {
		return nil, rules.ErrPermissionDenied
	}

	var (
		proposal *Proposal
		moved    bool
	)
	err := s.outbox.Transact(ctx, s.store, func(ctx context.Context, tx docstore.Ops, rec *Recorder) error {
		t, err := loadTrade(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		if t.CreatorID == proposer {
			return invalidInput("cannot propose on your own trade")
		}
		if t.Status != TradeOpen && t.Status != TradeProposed {
			return transitionError("trade", "propose on", t.Status)
		}

		now := time.Now().UTC()
		proposal = &Proposal{
			ID:             proposalID(proposer, tradeID),
			TradeID:        tradeID,
			ProposerUserID: proposer,
			TradeCreatorID: t.CreatorID,
			Status:         ProposalPending,
			Message:        utils.SanitizeText(req.Message),
			SkillsOffered:  utils.SanitizeList(req.SkillsOffered),
			SkillsWanted:   utils.SanitizeList(req.SkillsWanted),
			Evidence:       sanitizeEvidence(req.Evidence),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(ctx, proposalPath(tradeID, proposal.ID), proposal); err != nil {
			return err
		}
		if err := tx.Create(ctx, userProposalPath(proposer, proposal.ID), proposal); err != nil {
			return err
		}

		if t.Status == TradeOpen {
			// the proposer may not write the trade itself
			if err := tx.Update(rules.ServiceContext(ctx), tradePath(tradeID), map[string]interface{}{
				"status":    TradeProposed,
				"updatedAt": now,
			}); err != nil {
				return err
			}
			t.Status = TradeProposed
			moved = true
		}

		evt := tradeEvent(ctx, t)
		evt.ProposalID = proposal.ID
		evt.ProposerID = proposer
		return rec.Record(ctx, EventProposalSubmitted, tradeID, evt)
	})
	if err != nil {
		return nil, err
	}
	if moved {
		metrics.RecordTransition("trade", TradeOpen, TradeProposed)
	}
	return proposal, nil
}

// setProposalStatus updates a proposal and its projection under the proposer.
func setProposalStatus(ctx context.Context, tx docstore.Ops, p *Proposal, status string, now time.Time) error {
	fields := map[string]interface{}{"status": status, "updatedAt": now}
	if err := tx.Update(ctx, proposalPath(p.TradeID, p.ID), fields); err != nil {
		return err
	}
	err := tx.Update(ctx, userProposalPath(p.ProposerUserID, p.ID), fields)
	if errors.Is(err, docstore.ErrNotFound) {
		logger.Warnf("[Trade] Proposal projection %s of %s is missing", p.ID, p.ProposerUserID)
		return nil
	}
	return err
}

// AcceptProposal makes the proposer the trade's participant. Other pending
// proposals are rejected only when auto_reject_siblings is enabled.
func (s *TradeService) AcceptProposal(ctx context.Context, tradeID, id string) (*Trade, error) {
	return s.mutate(ctx, tradeID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, t *Trade) error {
		if err := requireCreator(ctx, t); err != nil {
			return err
		}
		p, err := loadProposal(ctx, tx, tradeID, id)
		if err != nil {
			return err
		}
		if p.Status != ProposalPending {
			return transitionError("proposal", "accept", p.Status)
		}
		if err := t.moveTo(TradeAccepted, "accept a proposal on"); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := setProposalStatus(ctx, tx, p, ProposalAccepted, now); err != nil {
			return err
		}
		t.ParticipantID = p.ProposerUserID
		t.AcceptedProposalID = p.ID

		if s.cfg.AutoRejectSiblings {
			siblings, err := tx.Query(ctx, docstore.Join("trades", tradeID, "proposals"), docstore.Query{}.Where("status", ProposalPending))
			if err != nil {
				return err
			}
			for _, snap := range siblings {
				if snap.ID == p.ID {
					continue
				}
				var sib Proposal
				if err := snap.DataTo(&sib); err != nil {
					return err
				}
				if err := setProposalStatus(ctx, tx, &sib, ProposalRejected, now); err != nil {
					return err
				}
				evt := tradeEvent(ctx, t)
				evt.ProposalID, evt.ProposerID = sib.ID, sib.ProposerUserID
				if err := rec.Record(ctx, EventProposalRejected, tradeID, evt); err != nil {
					return err
				}
			}
		}

		evt := tradeEvent(ctx, t)
		evt.ProposalID, evt.ProposerID = p.ID, p.ProposerUserID
		return rec.Record(ctx, EventProposalAccepted, tradeID, evt)
	})
}

// RejectProposal declines one proposal. A proposed trade with no pending
// proposal left goes back to open.
func (s *TradeService) RejectProposal(ctx context.Context, tradeID, id string) (*Trade, error) {
	return s.mutate(ctx, tradeID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, t *Trade) error {
		if err := requireCreator(ctx, t); err != nil {
			return err
		}
		p, err := loadProposal(ctx, tx, tradeID, id)
		if err != nil {
			return err
		}
		if p.Status != ProposalPending {
			return transitionError("proposal", "reject", p.Status)
		}
		if err := setProposalStatus(ctx, tx, p, ProposalRejected, time.Now().UTC()); err != nil {
			return err
		}

		if t.Status == TradeProposed {
			pending, err := tx.Query(ctx, docstore.Join("trades", tradeID, "proposals"), docstore.Query{}.Where("status", ProposalPending))
			if err != nil {
				return err
			}
			remaining := 0
			for _, snap := range pending {
				if snap.ID != p.ID {
					remaining++
				}
			}
			if remaining == 0 {
				if err := t.moveTo(TradeOpen, "reopen"); err != nil {
					return err
				}
			}
		}

		evt := tradeEvent(ctx, t)
		evt.ProposalID, evt.ProposerID = p.ID, p.ProposerUserID
		return rec.Record(ctx, EventProposalRejected, tradeID, evt)
	})
}

// ListProposals returns the proposals on a trade. Callers other than the
// creator see only their own.
func (s *TradeService) ListProposals(ctx context.Context, tradeID string) ([]Proposal, error) {
	t, err := loadTrade(ctx, s.store, tradeID)
	if err != nil {
		return nil, err
	}
	q := docstore.Query{}.Order("createdAt", false)
	if actor := actorID(ctx); actor != t.CreatorID && !isPrivileged(ctx) {
		q = q.Where("proposerUserId", actor)
	}
	return s.queryProposals(ctx, docstore.Join("trades", tradeID, "proposals"), q)
}

// ListUserProposals returns the proposals userID has made.
func (s *TradeService) ListUserProposals(ctx context.Context, userID string) ([]Proposal, error) {
	return s.queryProposals(ctx, docstore.Join("users", userID, "proposals"), docstore.Query{}.Order("createdAt", true))
}

func (s *TradeService) queryProposals(ctx context.Context, collection string, q docstore.Query) ([]Proposal, error) {
	snaps, err := s.store.Query(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, 0, len(snaps))
	for _, snap := range snaps {
		var p Proposal
		if err := snap.DataTo(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// StartTrade moves an accepted trade into progress.
func (s *TradeService) StartTrade(ctx context.Context, tradeID string) (*Trade, error) {
	return s.mutate(ctx, tradeID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, t *Trade) error {
		if err := requireParty(ctx, t); err != nil {
			return err
		}
		if err := t.moveTo(TradeInProgress, "start"); err != nil {
			return err
		}
		return rec.Record(ctx, EventTradeStarted, tradeID, tradeEvent(ctx, t))
	})
}

// SubmitCompletion asks the other party to confirm the work is done. It
// resolves the latest open change request as addressed.
func (s *TradeService) SubmitCompletion(ctx context.Context, tradeID string, req *CompletionRequest) (*Trade, error) {
	return s.mutate(ctx, tradeID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, t *Trade) error {
		if err := requireParty(ctx, t); err != nil {
			return err
		}
		if err := t.moveTo(TradePendingConfirmation, "submit completion of"); err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := len(t.ChangeRequests) - 1; i >= 0; i-- {
			if t.ChangeRequests[i].Status == ChangeRequestPending {
				t.ChangeRequests[i].Status = ChangeRequestAddressed
				t.ChangeRequests[i].ResolvedAt = &now
				break
			}
		}

		t.CompletionSubmittedBy = actorID(ctx)
		t.CompletionSubmittedAt = &now
		t.ReminderSentAt = nil
		if req != nil {
			t.CompletionNotes = utils.SanitizeText(req.Notes)
			t.CompletionEvidence = sanitizeEvidence(req.Evidence)
		}
		return rec.Record(ctx, EventCompletionSubmitted, tradeID, tradeEvent(ctx, t))
	})
}

// RequestChanges sends a submitted completion back with a reason. Only the
// party who did not submit may ask, and earlier requests are kept as they are.
func (s *TradeService) RequestChanges(ctx context.Context, tradeID, reason string) (*Trade, error) {
	reason = utils.SanitizeText(reason)
	if reason == "" {
		return nil, invalidInput("a reason is required")
	}
	return s.mutate(ctx, tradeID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, t *Trade) error {
		if err := requireParty(ctx, t); err != nil {
			return err
		}
		actor := actorID(ctx)
		if actor == t.CompletionSubmittedBy {
			return fmt.Errorf("%w: cannot request changes to your own submission", ErrInvalidTransition)
		}
		if err := t.moveTo(TradeChangeRequested, "request changes on"); err != nil {
			return err
		}

		t.ChangeRequests = append(t.ChangeRequests, ChangeRequest{
			ID:          uuid.NewString(),
			Reason:      reason,
			RequestedBy: actor,
			RequestedAt: time.Now().UTC(),
			Status:      ChangeRequestPending,
		})

		evt := tradeEvent(ctx, t)
		evt.Reason = reason
		return rec.Record(ctx, EventChangesRequested, tradeID, evt)
	})
}

// ConfirmCompletion completes the trade. The submitter cannot confirm their
// own submission. XP, portfolio and notifications follow from the outbox.
func (s *TradeService) ConfirmCompletion(ctx context.Context, tradeID string) (*Trade, error) {
	return s.mutate(ctx, tradeID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, t *Trade) error {
		if err := requireParty(ctx, t); err != nil {
			return err
		}
		actor := actorID(ctx)
		if t.Status == TradePendingConfirmation && actor == t.CompletionSubmittedBy {
			return fmt.Errorf("%w: cannot confirm your own submission", ErrInvalidTransition)
		}
		return s.complete(ctx, rec, t, actor)
	})
}

func (s *TradeService) complete(ctx context.Context, rec *Recorder, t *Trade, by string) error {
	if err := t.moveTo(TradeCompleted, "confirm"); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.CompletedAt = &now
	t.CompletedBy = by

	evt := tradeEvent(ctx, t)
	evt.Skills = append(append([]string{}, t.SkillsOffered...), t.SkillsWanted...)
	return rec.Record(ctx, EventTradeCompleted, t.ID, evt)
}

// CancelTrade ends a trade that has not reached confirmation.
func (s *TradeService) CancelTrade(ctx context.Context, tradeID string) (*Trade, error) {
	return s.mutate(ctx, tradeID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, t *Trade) error {
		if err := requireParty(ctx, t); err != nil {
			return err
		}
		if err := t.moveTo(TradeCancelled, "cancel"); err != nil {
			return err
		}
		now := time.Now().UTC()
		t.CancelledAt = &now
		t.CancelledBy = actorID(ctx)
		return rec.Record(ctx, EventTradeCancelled, tradeID, tradeEvent(ctx, t))
	})
}

// DisputeTrade freezes a trade in progress for admin review.
func (s *TradeService) DisputeTrade(ctx context.Context, tradeID, reason string) (*Trade, error) {
	reason = utils.SanitizeText(reason)
	if reason == "" {
		return nil, invalidInput("a reason is required")
	}
	return s.mutate(ctx, tradeID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, t *Trade) error {
		if err := requireParty(ctx, t); err != nil {
			return err
		}
		if err := t.moveTo(TradeDisputed, "dispute"); err != nil {
			return err
		}
		t.DisputeReason = reason
		t.DisputedBy = actorID(ctx)

		evt := tradeEvent(ctx, t)
		evt.Reason = reason
		return rec.Record(ctx, EventTradeDisputed, tradeID, evt)
	})
}

// AutoCompleteOverdue reminds the confirming party of a waiting submission
// once it is older than reminder_after, and completes it on their behalf
// once it is older than auto_complete_after.
func (s *TradeService) AutoCompleteOverdue(ctx context.Context, now time.Time) (*AutoCompleteReport, error) {
	ctx = rules.ServiceContext(ctx)
	snaps, err := s.store.Query(ctx, "trades", docstore.Query{}.Where("status", TradePendingConfirmation))
	if err != nil {
		return nil, fmt.Errorf("list trades awaiting confirmation: %w", err)
	}

	report := &AutoCompleteReport{}
	for _, snap := range snaps {
		var t Trade
		if err := snap.DataTo(&t); err != nil {
			return report, err
		}
		if t.CompletionSubmittedAt == nil {
			continue
		}
		waited := now.Sub(*t.CompletionSubmittedAt)

		switch {
		case s.cfg.AutoCompleteAfter > 0 && waited >= s.cfg.AutoCompleteAfter:
			_, err := s.mutate(ctx, t.ID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, cur *Trade) error {
				if cur.Status != TradePendingConfirmation {
					return errTradeUnchanged
				}
				return s.complete(ctx, rec, cur, rules.ServiceUID)
			})
			if errors.Is(err, errTradeUnchanged) {
				continue
			}
			if err != nil {
				logger.Warnf("[Trade] Auto-complete %s failed: %v", t.ID, err)
				continue
			}
			report.Completed++

		case s.cfg.ReminderAfter > 0 && waited >= s.cfg.ReminderAfter && t.ReminderSentAt == nil:
			_, err := s.mutate(ctx, t.ID, func(ctx context.Context, tx docstore.Ops, rec *Recorder, cur *Trade) error {
				if cur.Status != TradePendingConfirmation || cur.ReminderSentAt != nil {
					return errTradeUnchanged
				}
				sent := now.UTC()
				cur.ReminderSentAt = &sent
				evt := tradeEvent(ctx, cur)
				evt.ActorID = cur.CompletionSubmittedBy
				return rec.Record(ctx, EventCompletionReminder, cur.ID, evt)
			})
			if errors.Is(err, errTradeUnchanged) {
				continue
			}
			if err != nil {
				logger.Warnf("[Trade] Reminder for %s failed: %v", t.ID, err)
				continue
			}
			report.Reminded++
		}
	}
	return report, nil
}

func sanitizeEvidence(in []Evidence) []Evidence {
	out := make([]Evidence, 0, len(in))
	for _, e := range in {
		url := utils.SanitizeText(e.URL)
		if url == "" {
			continue
		}
		out = append(out, Evidence{
			Type:  utils.SanitizeText(e.Type),
			URL:   url,
			Title: utils.SanitizeText(e.Title),
		})
	}
	return out
}
