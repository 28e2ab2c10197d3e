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

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_Filter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventSettled, " "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventRefunded, "refunded", ""))
	require.NoError(t, n.Notify(context.Background(), EventSettled, "settled", ""))
	assert.Equal(t, []string{"settled"}, s.titles)

	all := NewNotifier([]Sender{s}, nil, discardLogger())
	require.NoError(t, all.Notify(context.Background(), EventUnfilled, "unfilled", ""))
	assert.Equal(t, []string{"settled", "unfilled"}, s.titles)
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventSettlementFailed, "failed", "")
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.titles, 1)
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Contest settled", "c1 paid 200.00"))
	assert.Equal(t, "**Contest settled**\nc1 paid 200.00", got["content"])
}

func TestTelegramSender(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, "/bottok/sendMessage", path)
}
