package peering

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// loopback routes outbound calls straight into another in-process instance.
type loopback struct {
	target   *Service
	fail     error
	unpaired []string
}

func (l *loopback) Accept(ctx context.Context, remoteURL string, req *AcceptRequest) (*AcceptResponse, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	return l.target.Accept(ctx, req)
}

func (l *loopback) Unpair(ctx context.Context, remoteURL, selfURL string) error {
	l.unpaired = append(l.unpaired, selfURL)
	if l.target == nil {
		return nil
	}
	return l.target.HandleRemoteUnpair(ctx, selfURL)
}

type instance struct {
	store   *database.BoltStore
	clock   *monitoring.FixedClock
	remote  *loopback
	service *Service
}

func newInstance(t *testing.T, name, url string) *instance {
	t.Helper()
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := monitoring.NewFixedClock(testEpoch)
	remote := &loopback{}
	svc := NewService(store, clock, remote, Options{
		SelfURL:                  url,
		SelfName:                 name,
		TokenTTL:                 10 * time.Minute,
		HeartbeatIntervalSeconds: 30,
	})
	return &instance{store: store, clock: clock, remote: remote, service: svc}
}

func TestTokenRoundTripAndExpiry(t *testing.T) {
	a := newInstance(t, "alpha", "http://alpha:8080/")
	token, err := a.service.Initiate(context.Background())
	require.NoError(t, err)

	payload, err := DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "http://alpha:8080", payload.URL)
	assert.Equal(t, "alpha", payload.Name)
	assert.Len(t, payload.Secret, 64)
	assert.True(t, payload.ExpiresAt.Equal(testEpoch.Add(10*time.Minute)))

	assert.False(t, payload.Expired(testEpoch.Add(9*time.Minute)))
	assert.True(t, payload.Expired(testEpoch.Add(11*time.Minute)))
}

func TestDecodeMalformedToken(t *testing.T) {
	for _, token := range []string{
		"not base64!",
		base64.StdEncoding.EncodeToString([]byte("not json")),
		base64.StdEncoding.EncodeToString([]byte(`{"name":"x"}`)),
	} {
		_, err := DecodeToken(token)
		assert.ErrorIs(t, err, ErrMalformedToken, token)
	}
}

func TestSecretValidatesOnce(t *testing.T) {
	a := newInstance(t, "alpha", "http://alpha")
	ctx := context.Background()
	token, err := a.service.Initiate(ctx)
	require.NoError(t, err)
	payload, err := DecodeToken(token)
	require.NoError(t, err)

	ok, err := a.service.ValidateSecret(ctx, payload.Secret)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.service.ValidateSecret(ctx, payload.Secret)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentAcceptSucceedsOnce(t *testing.T) {
	a := newInstance(t, "alpha", "http://alpha")
	ctx := context.Background()
	token, err := a.service.Initiate(ctx)
	require.NoError(t, err)
	payload, err := DecodeToken(token)
	require.NoError(t, err)

	var wins, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.service.Accept(ctx, &AcceptRequest{Secret: payload.Secret, URL: "http://beta"})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if errors.Is(err, ErrInvalidSecret) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(7), rejected)
}

func TestExpiredSecretIsRejected(t *testing.T) {
	a := newInstance(t, "alpha", "http://alpha")
	ctx := context.Background()
	token, err := a.service.Initiate(ctx)
	require.NoError(t, err)
	payload, _ := DecodeToken(token)

	a.clock.Advance(11 * time.Minute)
	_, err = a.service.Accept(ctx, &AcceptRequest{Secret: payload.Secret, URL: "http://beta"})
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestPairingIsSymmetric(t *testing.T) {
	ctx := context.Background()
	a := newInstance(t, "alpha", "http://alpha")
	b := newInstance(t, "beta", "http://beta")
	b.remote.target = a.service
	a.remote.target = b.service

	token, err := a.service.Initiate(ctx)
	require.NoError(t, err)

	peerOnB, err := b.service.Complete(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "http://alpha", peerOnB.URL)
	assert.Equal(t, 30, peerOnB.HeartbeatIntervalSeconds)

	// b pushes to a's mirror monitors
	mon, err := a.store.GetMonitorByToken(ctx, peerOnB.HeartbeatToken)
	require.NoError(t, err)
	assert.Equal(t, database.MonitorHeartbeat, mon.Type)
	mon, err = a.store.GetMonitorByToken(ctx, peerOnB.WebhookToken)
	require.NoError(t, err)
	assert.Equal(t, database.MonitorWebhook, mon.Type)

	// and a pushes to b's
	peersOnA, err := a.store.GetPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peersOnA, 1)
	assert.Equal(t, "http://beta", peersOnA[0].URL)
	mon, err = b.store.GetMonitorByToken(ctx, peersOnA[0].HeartbeatToken)
	require.NoError(t, err)
	assert.Equal(t, peerOnB.ServiceID, mon.ServiceID)

	_, err = b.service.Complete(ctx, token)
	assert.Error(t, err, "token is single use")

	require.NoError(t, b.service.Unpair(ctx, peerOnB.ID))
	_, err = b.store.GetService(ctx, peerOnB.ServiceID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	peersOnA, err = a.store.GetPeers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peersOnA)
	servicesOnA, err := a.store.GetServices(ctx, database.ServiceFilters{})
	require.NoError(t, err)
	assert.Empty(t, servicesOnA, "reciprocal unpair removes a's mirror of b")
}

func TestCompleteRollsBackOnRemoteFailure(t *testing.T) {
	ctx := context.Background()
	a := newInstance(t, "alpha", "http://alpha")
	b := newInstance(t, "beta", "http://beta")
	b.remote.fail = errors.New("connection refused")

	token, err := a.service.Initiate(ctx)
	require.NoError(t, err)

	_, err = b.service.Complete(ctx, token)
	require.Error(t, err)

	services, err := b.store.GetServices(ctx, database.ServiceFilters{})
	require.NoError(t, err)
	assert.Empty(t, services)
	peers, err := b.store.GetPeers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestCompleteRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	a := newInstance(t, "alpha", "http://alpha")
	b := newInstance(t, "beta", "http://beta")
	b.remote.target = a.service

	token, err := a.service.Initiate(ctx)
	require.NoError(t, err)
	b.clock.Advance(10 * time.Minute)

	_, err = b.service.Complete(ctx, token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestHandleRemoteUnpairUnknownURL(t *testing.T) {
	a := newInstance(t, "alpha", "http://alpha")
	err := a.service.HandleRemoteUnpair(context.Background(), "http://nobody")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestClientCalls(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/peers/pair/accept":
			body, _ := io.ReadAll(r.Body)
			var req AcceptRequest
			require.NoError(t, json.Unmarshal(body, &req))
			if req.Secret != "good" {
				http.Error(w, "invalid secret", http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(AcceptResponse{HeartbeatToken: "hb", WebhookToken: "wh", HeartbeatIntervalSeconds: 45})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := NewClient(time.Second, nil)
	ctx := context.Background()
	peer := &database.Peer{URL: srv.URL + "/", HeartbeatToken: "hb", WebhookToken: "wh"}

	require.NoError(t, client.Heartbeat(ctx, peer))
	require.NoError(t, client.Fail(ctx, peer))
	require.NoError(t, client.Recover(ctx, peer))
	require.NoError(t, client.Unpair(ctx, srv.URL, "http://self"))

	resp, err := client.Accept(ctx, srv.URL, &AcceptRequest{Secret: "good", URL: "http://self"})
	require.NoError(t, err)
	assert.Equal(t, 45, resp.HeartbeatIntervalSeconds)

	_, err = client.Accept(ctx, srv.URL, &AcceptRequest{Secret: "bad", URL: "http://self"})
	assert.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"/heartbeat/hb",
		"/webhook/wh/fail",
		"/webhook/wh/recover",
		"/peers/pair/unpair",
		"/peers/pair/accept",
		"/peers/pair/accept",
	}, paths)
}
