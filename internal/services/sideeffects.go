package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeya/backend/pkg/logger"
)

// Handler names recorded in OutboxEvent.Handled.
const (
	HandlerXP        = "xp"
	HandlerPortfolio = "portfolio"
	HandlerNotify    = "notify"
	HandlerReconcile = "reconcile"
)

// SideEffects reacts to committed domain events. Each handler is idempotent,
// so a redelivered event never awards XP or notifies twice.
type SideEffects struct {
	xp            *GamificationService
	portfolio     *PortfolioService
	notifications *NotificationService
	reconcile     *ReconcileService
}

func NewSideEffects(xp *GamificationService, portfolio *PortfolioService, notifications *NotificationService, reconcile *ReconcileService) *SideEffects {
	return &SideEffects{xp: xp, portfolio: portfolio, notifications: notifications, reconcile: reconcile}
}

// Register binds the handlers to outbox event types.
func (s *SideEffects) Register(outbox *OutboxService) {
	if s.xp != nil {
		outbox.Handle(EventTradeCompleted, HandlerXP, s.awardTradeXP)
		outbox.Handle(EventChallengeCompleted, HandlerXP, s.awardChallengeXP)
	}
	if s.portfolio != nil {
		outbox.Handle(EventTradeCompleted, HandlerPortfolio, s.tradePortfolio)
		outbox.Handle(EventChallengeCompleted, HandlerPortfolio, s.challengePortfolio)
	}
	if s.notifications != nil {
		for _, t := range []string{
			EventRelationshipCreated, EventRelationshipAccepted, EventRelationshipRejected,
			EventProposalSubmitted, EventProposalAccepted, EventProposalRejected,
			EventTradeStarted, EventCompletionSubmitted, EventChangesRequested,
			EventTradeCompleted, EventTradeCancelled, EventTradeDisputed, EventCompletionReminder,
			EventChallengeJoined, EventChallengeCompleted,
		} {
			outbox.Handle(t, HandlerNotify, s.notify)
		}
	}
	if s.reconcile != nil {
		outbox.Handle(EventRelationshipMirrorMissing, HandlerReconcile, s.reconcileConnection)
		outbox.Handle(EventRelationshipPartialWrite, HandlerReconcile, s.reconcileConnection)
	}
}

func (s *SideEffects) awardTradeXP(ctx context.Context, evt *OutboxEvent) error {
	var p TradeEvent
	if err := evt.Decode(&p); err != nil {
		return err
	}
	var errs []error
	for _, uid := range []string{p.CreatorID, p.ParticipantID} {
		if uid == "" {
			continue
		}
		if _, err := s.xp.AwardXP(ctx, uid, s.xp.TradeCompletionXP(), XPSourceTrade, p.TradeID, "Completed trade: "+p.Title); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SideEffects) awardChallengeXP(ctx context.Context, evt *OutboxEvent) error {
	var p ChallengeEvent
	if err := evt.Decode(&p); err != nil {
		return err
	}
	_, err := s.xp.AwardXP(ctx, p.UserID, s.xp.ChallengeXP(p.XPReward), XPSourceChallenge, p.ChallengeID, "Completed challenge: "+p.Title)
	return err
}

func (s *SideEffects) tradePortfolio(ctx context.Context, evt *OutboxEvent) error {
	var p TradeEvent
	if err := evt.Decode(&p); err != nil {
		return err
	}
	var errs []error
	for _, pair := range [][2]string{{p.CreatorID, p.ParticipantID}, {p.ParticipantID, p.CreatorID}} {
		uid, other := pair[0], pair[1]
		if uid == "" {
			continue
		}
		item := &PortfolioItem{
			UserID:      uid,
			Source:      XPSourceTrade,
			SourceID:    p.TradeID,
			Title:       p.Title,
			Skills:      p.Skills,
			Visible:     true,
			CompletedAt: evt.CreatedAt,
		}
		if other != "" {
			item.CollaboratorIDs = []string{other}
		}
		if _, err := s.portfolio.AddItem(ctx, item); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SideEffects) challengePortfolio(ctx context.Context, evt *OutboxEvent) error {
	var p ChallengeEvent
	if err := evt.Decode(&p); err != nil {
		return err
	}
	_, err := s.portfolio.AddItem(ctx, &PortfolioItem{
		UserID:      p.UserID,
		Source:      XPSourceChallenge,
		SourceID:    p.ChallengeID,
		Title:       p.Title,
		Skills:      p.Skills,
		Visible:     true,
		CompletedAt: evt.CreatedAt,
	})
	return err
}

func (s *SideEffects) reconcileConnection(ctx context.Context, evt *OutboxEvent) error {
	var p RelationshipEvent
	if err := evt.Decode(&p); err != nil {
		return err
	}
	result, err := s.reconcile.ReconcilePair(ctx, p.OwnerUserID, p.ConnectionID)
	if err != nil {
		return err
	}
	logger.Infof("[Reconcile] %s/%s after %s: %s", p.OwnerUserID, p.ConnectionID, evt.Type, result)
	return nil
}

// notice is one notification an event produces.
type notice struct {
	to      string
	related string
	title   string
	message string
}

func (s *SideEffects) notify(ctx context.Context, evt *OutboxEvent) error {
	notices, relatedID, err := noticesFor(evt)
	if err != nil {
		return err
	}
	var errs []error
	for _, n := range notices {
		if n.to == "" || n.to == n.related {
			continue
		}
		err := s.notifications.Notify(ctx, &Notification{
			ID:            evt.ID + "_" + HandlerNotify,
			UserID:        n.to,
			Type:          evt.Type,
			Title:         n.title,
			Message:       n.message,
			RelatedUserID: n.related,
			RelatedID:     relatedID,
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// noticesFor decides who hears about an event and what they are told.
func noticesFor(evt *OutboxEvent) ([]notice, string, error) {
	switch evt.Type {
	case EventRelationshipCreated, EventRelationshipAccepted, EventRelationshipRejected:
		var p RelationshipEvent
		if err := evt.Decode(&p); err != nil {
			return nil, "", err
		}
		switch evt.Type {
		case EventRelationshipCreated:
			return []notice{{to: p.CounterpartUserID, related: p.InitiatorUserID,
				title: "New connection request", message: "Someone wants to connect with you."}}, p.ConnectionID, nil
		case EventRelationshipAccepted:
			return []notice{{to: p.InitiatorUserID, related: p.ActorUserID,
				title: "Connection accepted", message: "Your connection request was accepted."}}, p.ConnectionID, nil
		default:
			return []notice{{to: p.InitiatorUserID, related: p.ActorUserID,
				title: "Connection declined", message: "Your connection request was declined."}}, p.ConnectionID, nil
		}

	case EventChallengeJoined, EventChallengeCompleted:
		var p ChallengeEvent
		if err := evt.Decode(&p); err != nil {
			return nil, "", err
		}
		if evt.Type == EventChallengeJoined {
			return []notice{{to: p.CreatorID, related: p.UserID,
				title: "New challenger", message: fmt.Sprintf("Someone joined %q.", p.Title)}}, p.ChallengeID, nil
		}
		return []notice{{to: p.UserID,
			title: "Challenge completed", message: fmt.Sprintf("You completed %q.", p.Title)}}, p.ChallengeID, nil
	}

	var p TradeEvent
	if err := evt.Decode(&p); err != nil {
		return nil, "", err
	}
	other := p.CreatorID
	if p.ActorID == p.CreatorID {
		other = p.ParticipantID
	}

	var out []notice
	switch evt.Type {
	case EventProposalSubmitted:
		out = []notice{{to: p.CreatorID, related: p.ProposerID,
			title: "New proposal", message: fmt.Sprintf("You received a proposal on %q.", p.Title)}}
	case EventProposalAccepted:
		out = []notice{{to: p.ProposerID, related: p.CreatorID,
			title: "Proposal accepted", message: fmt.Sprintf("Your proposal on %q was accepted.", p.Title)}}
	case EventProposalRejected:
		out = []notice{{to: p.ProposerID, related: p.CreatorID,
			title: "Proposal declined", message: fmt.Sprintf("Your proposal on %q was declined.", p.Title)}}
	case EventTradeStarted:
		out = []notice{{to: other, related: p.ActorID,
			title: "Trade started", message: fmt.Sprintf("%q is now in progress.", p.Title)}}
	case EventCompletionSubmitted:
		out = []notice{{to: other, related: p.ActorID,
			title: "Completion submitted", message: fmt.Sprintf("Please review and confirm %q.", p.Title)}}
	case EventChangesRequested:
		out = []notice{{to: other, related: p.ActorID,
			title: "Changes requested", message: fmt.Sprintf("Changes were requested on %q: %s", p.Title, p.Reason)}}
	case EventCompletionReminder:
		out = []notice{{to: other, related: p.ActorID,
			title: "Confirmation pending", message: fmt.Sprintf("%q is waiting for your confirmation.", p.Title)}}
	case EventTradeCancelled:
		out = []notice{{to: other, related: p.ActorID,
			title: "Trade cancelled", message: fmt.Sprintf("%q was cancelled.", p.Title)}}
	case EventTradeDisputed:
		out = []notice{{to: other, related: p.ActorID,
			title: "Trade disputed", message: fmt.Sprintf("%q was disputed: %s", p.Title, p.Reason)}}
	case EventTradeCompleted:
		msg := fmt.Sprintf("%q is complete.", p.Title)
		out = []notice{
			{to: p.CreatorID, related: p.ParticipantID, title: "Trade completed", message: msg},
			{to: p.ParticipantID, related: p.CreatorID, title: "Trade completed", message: msg},
		}
	default:
		return nil, "", fmt.Errorf("no notification for event type %s", evt.Type)
	}
	return out, p.TradeID, nil
}
