package peering

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/metrics"
)

const userAgent = "Sentinel Peer/1.0"

// AcceptRequest is the body of POST /peers/pair/accept. The token fields are
// set when the caller already created monitors for the accepting side.
type AcceptRequest struct {
	Secret                   string `json:"secret" binding:"required"`
	URL                      string `json:"url" binding:"required"`
	Name                     string `json:"name"`
	HeartbeatToken           string `json:"heartbeatToken,omitempty"`
	WebhookToken             string `json:"webhookToken,omitempty"`
	HeartbeatIntervalSeconds int    `json:"heartbeatIntervalSeconds,omitempty"`
}

// AcceptResponse carries the tokens the accepting side issued to the caller.
type AcceptResponse struct {
	HeartbeatToken           string `json:"heartbeatToken"`
	WebhookToken             string `json:"webhookToken"`
	HeartbeatIntervalSeconds int    `json:"heartbeatIntervalSeconds"`
}

type unpairRequest struct {
	URL string `json:"url"`
}

// Client makes the outbound HTTP calls to paired instances.
type Client struct {
	httpClient *http.Client
	metrics    *metrics.Collector
}

func NewClient(timeout time.Duration, collector *metrics.Collector) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		metrics:    collector,
	}
}

func (c *Client) Heartbeat(ctx context.Context, peer *database.Peer) error {
	err := c.post(ctx, joinURL(peer.URL, "heartbeat", peer.HeartbeatToken), nil, nil)
	c.metrics.RecordPeerCall("heartbeat", err)
	return err
}

func (c *Client) Fail(ctx context.Context, peer *database.Peer) error {
	err := c.post(ctx, joinURL(peer.URL, "webhook", peer.WebhookToken, "fail"), nil, nil)
	c.metrics.RecordPeerCall("fail", err)
	return err
}

func (c *Client) Recover(ctx context.Context, peer *database.Peer) error {
	err := c.post(ctx, joinURL(peer.URL, "webhook", peer.WebhookToken, "recover"), nil, nil)
	c.metrics.RecordPeerCall("recover", err)
	return err
}

// Accept asks the remote instance to consume the pairing secret.
func (c *Client) Accept(ctx context.Context, remoteURL string, req *AcceptRequest) (*AcceptResponse, error) {
	var resp AcceptResponse
	err := c.post(ctx, joinURL(remoteURL, "peers", "pair", "accept"), req, &resp)
	c.metrics.RecordPeerCall("accept", err)
	if err != nil {
		return nil, err
	}
	if resp.HeartbeatToken == "" || resp.WebhookToken == "" {
		return nil, fmt.Errorf("remote accept returned no tokens")
	}
	return &resp, nil
}

// Unpair tells the remote instance that selfURL is tearing the pairing down.
func (c *Client) Unpair(ctx context.Context, remoteURL, selfURL string) error {
	err := c.post(ctx, joinURL(remoteURL, "peers", "pair", "unpair"), &unpairRequest{URL: selfURL}, nil)
	c.metrics.RecordPeerCall("unpair", err)
	return err
}

func (c *Client) post(ctx context.Context, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("peer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("peer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode peer response: %w", err)
		}
	}
	return nil
}

func joinURL(base string, parts ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
