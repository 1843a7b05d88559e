package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubSender struct {
	name  string
	err   error
	calls int
}

func (s *stubSender) Send(context.Context, string, string) error {
	s.calls++
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{"panic", " emergency_exit "}, testLogger())

	require.NoError(t, n.Notify(context.Background(), "entry_placed", "t", "m"))
	assert.Equal(t, 0, s.calls)
	require.NoError(t, n.Notify(context.Background(), "emergency_exit", "t", "m"))
	assert.Equal(t, 1, s.calls)
	require.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
	assert.Equal(t, 2, s.calls)
}

func TestNotifyContinuesPastFailingSender(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "panic", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, 1, good.calls)
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(Config{}, testLogger()))
	assert.Nil(t, FromConfig(Config{TelegramToken: "tok"}, testLogger()), "chat id is required")

	n := FromConfig(Config{TelegramToken: "tok", TelegramChatID: "1", DiscordWebhookURL: "http://x"}, testLogger())
	require.NotNil(t, n)
	assert.Len(t, n.senders, 2)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "scalper panic", "cancelled=2"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*scalper panic*\n```\ncancelled=2\n```", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
