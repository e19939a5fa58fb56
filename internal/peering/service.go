// Package peering pairs two instances so each monitors the other: every side
// holds a mirror service fed by heartbeats and fail/recover webhooks pushed
// by its peer.
package peering

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidSecret  = errors.New("pairing secret is unknown, used or expired")
	ErrTokenExpired   = errors.New("pairing token has expired")
	ErrMalformedToken = errors.New("pairing token is malformed")
)

// TokenPayload is the decoded content of a pairing token.
type TokenPayload struct {
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (p *TokenPayload) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// RemoteCaller is the subset of Client the pairing handshake needs.
type RemoteCaller interface {
	Accept(ctx context.Context, remoteURL string, req *AcceptRequest) (*AcceptResponse, error)
	Unpair(ctx context.Context, remoteURL, selfURL string) error
}

type Options struct {
	SelfURL                  string
	SelfName                 string
	TokenTTL                 time.Duration
	HeartbeatIntervalSeconds int
}

type Service struct {
	store  database.Store
	clock  monitoring.Clock
	remote RemoteCaller
	opts   Options
}

func NewService(store database.Store, clock monitoring.Clock, remote RemoteCaller, opts Options) *Service {
	if clock == nil {
		clock = monitoring.SystemClock()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 10 * time.Minute
	}
	if opts.HeartbeatIntervalSeconds <= 0 {
		opts.HeartbeatIntervalSeconds = 60
	}
	opts.SelfURL = normalizeURL(opts.SelfURL)
	return &Service{store: store, clock: clock, remote: remote, opts: opts}
}

// Initiate creates a one-time secret and returns the token to hand to the
// other instance's operator.
func (s *Service) Initiate(ctx context.Context) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	now := s.clock.Now()
	payload := TokenPayload{
		URL:       s.opts.SelfURL,
		Name:      s.opts.SelfName,
		Secret:    hex.EncodeToString(raw),
		ExpiresAt: now.Add(s.opts.TokenTTL),
	}

	err := s.store.CreatePairingSecret(ctx, &database.PairingSecret{
		Secret:    payload.Secret,
		CreatedAt: now,
		ExpiresAt: payload.ExpiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store pairing secret: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}
	logrus.WithField("expires_at", payload.ExpiresAt).Info("Pairing token issued")
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token without judging its expiry.
func DecodeToken(token string) (*TokenPayload, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var payload TokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if payload.URL == "" || payload.Secret == "" {
		return nil, fmt.Errorf("%w: missing url or secret", ErrMalformedToken)
	}
	return &payload, nil
}

// ValidateSecret consumes the secret. It reports true at most once per secret.
func (s *Service) ValidateSecret(ctx context.Context, secret string) (bool, error) {
	if secret == "" {
		return false, nil
	}
	return s.store.ConsumePairingSecret(ctx, secret, s.clock.Now())
}

// Accept handles the remote side of the handshake.
func (s *Service) Accept(ctx context.Context, req *AcceptRequest) (*AcceptResponse, error) {
	ok, err := s.ValidateSecret(ctx, req.Secret)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidSecret
	}

	remoteURL := normalizeURL(req.URL)
	mirror, err := s.createMirror(ctx, req.Name, remoteURL)
	if err != nil {
		return nil, err
	}

	if req.HeartbeatToken != "" && req.WebhookToken != "" {
		interval := req.HeartbeatIntervalSeconds
		if interval <= 0 {
			interval = s.opts.HeartbeatIntervalSeconds
		}
		peer := &database.Peer{
			Name:                     req.Name,
			URL:                      remoteURL,
			HeartbeatToken:           req.HeartbeatToken,
			WebhookToken:             req.WebhookToken,
			ServiceID:                mirror.serviceID,
			PairedAt:                 s.clock.Now(),
			HeartbeatIntervalSeconds: interval,
		}
		if err := s.store.SavePeer(ctx, peer); err != nil {
			s.dropMirror(ctx, mirror.serviceID)
			return nil, fmt.Errorf("failed to save peer: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"peer_url":   remoteURL,
		"service_id": mirror.serviceID,
	}).Info("Accepted pairing request")

	return &AcceptResponse{
		HeartbeatToken:           mirror.heartbeatToken,
		WebhookToken:             mirror.webhookToken,
		HeartbeatIntervalSeconds: s.opts.HeartbeatIntervalSeconds,
	}, nil
}

// Complete finishes a handshake started by a token the remote instance
// issued. The local mirror is removed again when the remote rejects it.
func (s *Service) Complete(ctx context.Context, token string) (*database.Peer, error) {
	payload, err := DecodeToken(token)
	if err != nil {
		return nil, err
	}
	if payload.Expired(s.clock.Now()) {
		return nil, ErrTokenExpired
	}

	remoteURL := normalizeURL(payload.URL)
	mirror, err := s.createMirror(ctx, payload.Name, remoteURL)
	if err != nil {
		return nil, err
	}

	resp, err := s.remote.Accept(ctx, remoteURL, &AcceptRequest{
		Secret:                   payload.Secret,
		URL:                      s.opts.SelfURL,
		Name:                     s.opts.SelfName,
		HeartbeatToken:           mirror.heartbeatToken,
		WebhookToken:             mirror.webhookToken,
		HeartbeatIntervalSeconds: s.opts.HeartbeatIntervalSeconds,
	})
	if err != nil {
		s.dropMirror(ctx, mirror.serviceID)
		return nil, fmt.Errorf("remote accept failed: %w", err)
	}

	interval := resp.HeartbeatIntervalSeconds
	if interval <= 0 {
		interval = s.opts.HeartbeatIntervalSeconds
	}
	peer := &database.Peer{
		Name:                     payload.Name,
		URL:                      remoteURL,
		HeartbeatToken:           resp.HeartbeatToken,
		WebhookToken:             resp.WebhookToken,
		ServiceID:                mirror.serviceID,
		PairedAt:                 s.clock.Now(),
		HeartbeatIntervalSeconds: interval,
	}
	if err := s.store.SavePeer(ctx, peer); err != nil {
		s.dropMirror(ctx, mirror.serviceID)
		return nil, fmt.Errorf("failed to save peer: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"peer_id":  peer.ID,
		"peer_url": peer.URL,
	}).Info("Pairing completed")
	return peer, nil
}

// Unpair removes the peer and its mirror service, then tells the remote side.
// The remote call is best effort.
func (s *Service) Unpair(ctx context.Context, peerID string) error {
	peer, err := s.store.GetPeer(ctx, peerID)
	if err != nil {
		return err
	}
	if err := s.removePeer(ctx, peer); err != nil {
		return err
	}

	if err := s.remote.Unpair(ctx, peer.URL, s.opts.SelfURL); err != nil {
		logrus.WithError(err).WithField("peer_url", peer.URL).Warn("Remote unpair failed")
	}
	return nil
}

// HandleRemoteUnpair tears down every pairing with the instance at url.
func (s *Service) HandleRemoteUnpair(ctx context.Context, url string) error {
	url = normalizeURL(url)
	peers, err := s.store.GetPeers(ctx)
	if err != nil {
		return err
	}
	removed := 0
	for i := range peers {
		if normalizeURL(peers[i].URL) != url {
			continue
		}
		if err := s.removePeer(ctx, &peers[i]); err != nil {
			return err
		}
		removed++
	}
	if removed == 0 {
		return fmt.Errorf("peer %s: %w", url, database.ErrNotFound)
	}
	logrus.WithField("peer_url", url).Info("Remote instance unpaired")
	return nil
}

func (s *Service) removePeer(ctx context.Context, peer *database.Peer) error {
	if err := s.store.DeletePeer(ctx, peer.ID); err != nil {
		return err
	}
	err := s.store.DeleteService(ctx, peer.ServiceID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("failed to delete mirror service: %w", err)
	}
	return nil
}

type mirror struct {
	serviceID      string
	heartbeatToken string
	webhookToken   string
}

// createMirror creates the local service representing a remote instance with
// the heartbeat and webhook monitors the remote will push to.
func (s *Service) createMirror(ctx context.Context, name, url string) (*mirror, error) {
	if name == "" {
		name = url
	}
	svc := &database.Service{
		Name:        "Peer: " + name,
		Description: "Paired instance at " + url,
		Severity:    database.SeverityHigh,
	}
	if err := s.store.CreateService(ctx, svc); err != nil {
		return nil, fmt.Errorf("failed to create mirror service: %w", err)
	}

	hb := &database.Monitor{
		ServiceID:          svc.ID,
		Type:               database.MonitorHeartbeat,
		IntervalSeconds:    s.opts.HeartbeatIntervalSeconds,
		GracePeriodSeconds: s.opts.HeartbeatIntervalSeconds,
	}
	wh := &database.Monitor{ServiceID: svc.ID, Type: database.MonitorWebhook}
	for _, m := range []*database.Monitor{hb, wh} {
		m.ApplyDefaults()
		if err := s.store.CreateMonitor(ctx, m); err != nil {
			s.dropMirror(ctx, svc.ID)
			return nil, fmt.Errorf("failed to create mirror monitor: %w", err)
		}
	}

	return &mirror{serviceID: svc.ID, heartbeatToken: hb.Token, webhookToken: wh.Token}, nil
}

func (s *Service) dropMirror(ctx context.Context, serviceID string) {
	if err := s.store.DeleteService(ctx, serviceID); err != nil {
		logrus.WithError(err).WithField("service_id", serviceID).Warn("Failed to roll back mirror service")
	}
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
