package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/pkg/logger"
)

// Notification is an in-app message stored under the recipient.
type Notification struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	RelatedUserID string    `json:"relatedUserId,omitempty"`
	RelatedID     string    `json:"relatedId,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"createdAt"`
}

type NotificationService struct {
	store         docstore.Store
	broker        Broker
	webhookURL    string
	webhookSecret string
	client        *http.Client
}

func NewNotificationService(store docstore.Store, broker Broker, cfg *config.NotificationsConfig) *NotificationService {
	return &NotificationService{
		store:         store,
		broker:        broker,
		webhookURL:    cfg.WebhookURL,
		webhookSecret: cfg.WebhookSecret,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func notificationPath(userID, id string) string {
	return docstore.Join("users", userID, "notifications", id)
}

// Notify stores n and pushes it to the recipient's live connections and the
// outbound webhook. A notification whose ID already exists was delivered
// before and is skipped.
func (s *NotificationService) Notify(ctx context.Context, n *Notification) error {
	if n.UserID == "" || n.ID == "" {
		return invalidInput("notification needs a recipient and an id")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	err := s.store.Create(rules.ServiceContext(ctx), notificationPath(n.UserID, n.ID), n)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store notification %s: %w", n.ID, err)
	}

	if s.broker != nil {
		event := UserEvent{ID: n.ID, UserID: n.UserID, Type: n.Type, Data: n, At: n.CreatedAt}
		if err := s.broker.Publish(ctx, event); err != nil {
			logger.Warnf("[Notification] Publish %s to %s failed: %v", n.Type, n.UserID, err)
		}
	}

	if s.webhookURL != "" {
		if err := s.postWebhook(ctx, n); err != nil {
			logger.Warnf("[Notification] Webhook for %s failed: %v", n.ID, err)
		}
	}
	return nil
}

// List returns the newest notifications of userID.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	q := docstore.Query{}.Order("createdAt", true).Take(limit)
	if unreadOnly {
		q = q.Where("read", false)
	}
	snaps, err := s.store.Query(ctx, docstore.Join("users", userID, "notifications"), q)
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(snaps))
	for _, snap := range snaps {
		var n Notification
		if err := snap.DataTo(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	return s.store.Update(ctx, notificationPath(userID, id), map[string]interface{}{"read": true})
}

func (s *NotificationService) postWebhook(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(map[string]interface{}{
		"event":        n.Type,
		"notification": n,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.webhookSecret != "" {
		req.Header.Set("X-TradeYa-Signature", "sha256="+signPayload(s.webhookSecret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	logger.Debugf("[Notification] Webhook response: %d - %s", resp.StatusCode, string(respBody))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func signPayload(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
