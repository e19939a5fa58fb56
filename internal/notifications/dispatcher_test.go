package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/John-MustangGT/sentinel/internal/config"
	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu      sync.Mutex
	targets []string
	err     error
}

func (f *fakeSender) Send(ctx context.Context, target string, notice *Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return f.err
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

func newStore(t *testing.T) *database.BoltStore {
	t.Helper()
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAlert(t *testing.T, store database.Store, contactIDs ...string) *database.Alert {
	t.Helper()
	ctx := context.Background()
	svc := &database.Service{Name: "api", ContactIDs: contactIDs}
	require.NoError(t, store.CreateService(ctx, svc))
	alert := &database.Alert{
		ServiceID: svc.ID,
		Type:      database.AlertFailure,
		Severity:  database.SeverityHigh,
		Message:   "api is down",
		CreatedAt: testEpoch,
	}
	require.NoError(t, store.CreateAlert(ctx, alert))
	return alert
}

func TestRecipientsPreferServiceContacts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	oncall := &database.Contact{Name: "oncall", Channels: []database.Channel{{Type: database.ChannelLog, Target: "oncall", Enabled: true}}}
	def := &database.Contact{Name: "default", IsDefault: true, Channels: []database.Channel{{Type: database.ChannelLog, Target: "default", Enabled: true}}}
	require.NoError(t, store.SaveContact(ctx, oncall))
	require.NoError(t, store.SaveContact(ctx, def))

	fallback := []database.Channel{{Type: database.ChannelLog, Target: "fallback", Enabled: true}}
	d := NewDispatcher(store, monitoring.NewFixedClock(testEpoch), fallback, nil)

	withContact := &database.Service{ID: "a", ContactIDs: []string{oncall.ID}}
	channels, err := d.Recipients(ctx, withContact)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "oncall", channels[0].Target)

	channels, err = d.Recipients(ctx, &database.Service{ID: "b"})
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "default", channels[0].Target)

	require.NoError(t, store.DeleteContact(ctx, def.ID))
	channels, err = d.Recipients(ctx, &database.Service{ID: "c", ContactIDs: []string{"gone"}})
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "fallback", channels[0].Target)
}

func TestDispatchMarksDeliveredWhenAllChannelsSucceed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	alert := seedAlert(t, store)

	fallback := []database.Channel{
		{Type: database.ChannelWebhook, Target: "one", Enabled: true},
		{Type: database.ChannelWebhook, Target: "disabled", Enabled: false},
		{Type: database.ChannelLog, Target: "two", Enabled: true},
	}
	sender := &fakeSender{}
	d := NewDispatcher(store, monitoring.NewFixedClock(testEpoch), fallback, nil)
	d.Register(database.ChannelWebhook, sender)
	d.Register(database.ChannelLog, LogSender{})

	delivered, err := d.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, []string{"one"}, sender.sent())

	stored, err := store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DispatchedAt)
	assert.True(t, stored.DispatchedAt.Equal(testEpoch))
}

func TestDispatchPartialFailureIsNotDelivered(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	alert := seedAlert(t, store)

	good := &fakeSender{}
	bad := &fakeSender{err: errors.New("boom")}
	fallback := []database.Channel{
		{Type: database.ChannelWebhook, Target: "bad", Enabled: true},
		{Type: database.ChannelLog, Target: "good", Enabled: true},
	}
	d := NewDispatcher(store, monitoring.NewFixedClock(testEpoch), fallback, nil)
	d.Register(database.ChannelWebhook, bad)
	d.Register(database.ChannelLog, good)

	delivered, err := d.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Len(t, good.sent(), 1, "sibling channel still attempted")

	stored, err := store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DispatchedAt)
}

func TestDispatchWithoutChannelsIsNotDelivered(t *testing.T) {
	store := newStore(t)
	alert := seedAlert(t, store)
	d := NewDispatcher(store, monitoring.NewFixedClock(testEpoch), nil, nil)

	delivered, err := d.Dispatch(context.Background(), alert)
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestWebhookSender(t *testing.T) {
	var got Notice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.Alert.Message == "fail me" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(time.Second)
	notice := &Notice{
		Alert:   &database.Alert{ID: "a1", Message: "api is down"},
		Service: &database.Service{ID: "s1", Name: "api"},
	}
	require.NoError(t, sender.Send(context.Background(), srv.URL, notice))
	assert.Equal(t, "a1", got.Alert.ID)
	assert.Equal(t, "api", got.Service.Name)

	notice.Alert.Message = "fail me"
	assert.Error(t, sender.Send(context.Background(), srv.URL, notice))
	assert.Error(t, sender.Send(context.Background(), "", notice))
}

func TestPushoverSender(t *testing.T) {
	var got PushoverMessage
	status := 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PushoverMessage{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(PushoverResponse{Status: status, Errors: []string{"bad user"}})
	}))
	defer srv.Close()

	cfg := config.PushoverConfig{
		APIToken: "app",
		UserKey:  "fallback-user",
		APIURL:   srv.URL,
		Priority: 2,
		Retry:    60,
		Expire:   600,
		Title:    "Sentinel: {{.Service}}",
		Template: "{{.Message}} ({{.Severity}})",
	}
	sender, err := NewPushoverSender(cfg, srv.Client())
	require.NoError(t, err)

	notice := &Notice{
		Alert: &database.Alert{
			Type:      database.AlertFailure,
			Severity:  database.SeverityCritical,
			Message:   "db is down",
			CreatedAt: testEpoch,
		},
		Service: &database.Service{ID: "db", Name: "Database"},
	}
	require.NoError(t, sender.Send(context.Background(), "", notice))
	assert.Equal(t, "fallback-user", got.User)
	assert.Equal(t, "Sentinel: Database", got.Title)
	assert.Contains(t, got.Message, "db is down (critical)")
	assert.Equal(t, 2, got.Priority)
	assert.Equal(t, 60, got.Retry)

	notice.Alert.Type = database.AlertRecovery
	require.NoError(t, sender.Send(context.Background(), "group-key", notice))
	assert.Equal(t, "group-key", got.User)
	assert.Equal(t, 0, got.Priority)

	status = 0
	assert.Error(t, sender.Send(context.Background(), "group-key", notice))
}
