package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/rules"
)

func TestNotify_StoresPublishesAndSigns(t *testing.T) {
	var gotSig, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotSig = r.Header.Get("X-TradeYa-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	e := newTestEnv(t)
	hub := NewSSEHub()
	ch := hub.Subscribe("c1", "bob")
	svc := NewNotificationService(e.store, NewLocalBroker(hub), &config.NotificationsConfig{
		WebhookURL:    srv.URL,
		WebhookSecret: "s3cret",
	})

	n := &Notification{ID: "evt1_notify", UserID: "bob", Type: EventProposalAccepted, Title: "Proposal accepted"}
	require.NoError(t, svc.Notify(context.Background(), n))

	select {
	case evt := <-ch:
		assert.Equal(t, EventProposalAccepted, evt.Type)
		assert.Equal(t, "bob", evt.UserID)
	case <-time.After(time.Second):
		t.Fatal("no live event published")
	}

	assert.Equal(t, "sha256="+signPayload("s3cret", []byte(gotBody)), gotSig)
	assert.Contains(t, gotBody, `"event":"trade.proposal_accepted"`)

	// redelivery is a no-op
	require.NoError(t, svc.Notify(context.Background(), n))
	select {
	case <-ch:
		t.Fatal("duplicate notification published")
	default:
	}

	list, err := svc.List(asUser("bob"), "bob", true, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.MarkRead(asUser("bob"), "bob", n.ID))
	list, err = svc.List(asUser("bob"), "bob", true, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.List(asUser("alice"), "bob", false, 0)
	assert.ErrorIs(t, err, rules.ErrPermissionDenied)
}

func TestNotify_WebhookFailureIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newTestEnv(t)
	svc := NewNotificationService(e.store, nil, &config.NotificationsConfig{WebhookURL: srv.URL})

	err := svc.Notify(context.Background(), &Notification{ID: "evt1_notify", UserID: "bob", Type: "x"})
	assert.NoError(t, err)
	assert.True(t, e.exists(t, "users/bob/notifications/evt1_notify"))
}

func TestNotify_RequiresRecipient(t *testing.T) {
	e := newTestEnv(t)
	svc := NewNotificationService(e.store, nil, &config.NotificationsConfig{})
	assert.ErrorIs(t, svc.Notify(context.Background(), &Notification{ID: "x"}), ErrInvalidInput)
}
