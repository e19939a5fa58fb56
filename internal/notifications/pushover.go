// internal/notifications/pushover.go - Pushover notification service
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/John-MustangGT/sentinel/internal/config"
	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/sirupsen/logrus"
)

// PushoverMessage represents a message sent to Pushover API
type PushoverMessage struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Retry     int    `json:"retry,omitempty"`
	Expire    int    `json:"expire,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Device    string `json:"device,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// PushoverResponse represents the API response
type PushoverResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// PushoverSender delivers notices through the Pushover API. The channel
// target is the user or group key.
type PushoverSender struct {
	config     config.PushoverConfig
	httpClient *http.Client
	title      *template.Template
	message    *template.Template
}

func NewPushoverSender(cfg config.PushoverConfig, httpClient *http.Client) (*PushoverSender, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	title, err := template.New("title").Parse(cfg.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to parse title template: %w", err)
	}
	message, err := template.New("message").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message template: %w", err)
	}

	return &PushoverSender{
		config:     cfg,
		httpClient: httpClient,
		title:      title,
		message:    message,
	}, nil
}

func (ps *PushoverSender) Send(ctx context.Context, target string, notice *Notice) error {
	msg, err := ps.buildMessage(target, notice)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	return ps.sendToPushover(ctx, msg)
}

func (ps *PushoverSender) buildMessage(target string, notice *Notice) (*PushoverMessage, error) {
	user := target
	if user == "" {
		user = ps.config.UserKey
	}
	if ps.config.APIToken == "" || user == "" {
		return nil, fmt.Errorf("pushover API token and user key are required")
	}

	isRecovery := notice.Alert.Type == database.AlertRecovery
	data := map[string]interface{}{
		"Service":     notice.Service.Name,
		"ServiceID":   notice.Service.ID,
		"Type":        string(notice.Alert.Type),
		"Severity":    string(notice.Alert.Severity),
		"Message":     notice.Alert.Message,
		"Timestamp":   notice.Alert.CreatedAt.Format("2006-01-02 15:04:05"),
		"IsRecovery":  isRecovery,
		"StatusEmoji": statusEmoji(notice.Alert.Type),
	}

	var title, body bytes.Buffer
	if err := ps.title.Execute(&title, data); err != nil {
		return nil, fmt.Errorf("failed to render title: %w", err)
	}
	if err := ps.message.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	msg := &PushoverMessage{
		Token:     ps.config.APIToken,
		User:      user,
		Title:     title.String(),
		Message:   statusEmoji(notice.Alert.Type) + " " + body.String(),
		Priority:  ps.priorityFor(notice.Alert),
		Sound:     ps.config.Sound,
		Device:    ps.config.Device,
		Timestamp: notice.Alert.CreatedAt.Unix(),
	}
	if msg.Priority == 2 {
		msg.Retry = ps.config.Retry
		msg.Expire = ps.config.Expire
	}
	return msg, nil
}

// priorityFor keeps emergency priority for critical failures only; a recovery
// never pages.
func (ps *PushoverSender) priorityFor(alert *database.Alert) int {
	p := ps.config.Priority
	if alert.Type == database.AlertRecovery && p > 0 {
		return 0
	}
	if p == 2 && alert.Severity != database.SeverityCritical {
		return 1
	}
	return p
}

func (ps *PushoverSender) sendToPushover(ctx context.Context, message *PushoverMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ps.config.APIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var pushoverResp PushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushoverResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if pushoverResp.Status != 1 {
		return fmt.Errorf("pushover API error: %v", pushoverResp.Errors)
	}

	logrus.WithFields(logrus.Fields{
		"title":    message.Title,
		"priority": message.Priority,
		"sound":    message.Sound,
	}).Info("Pushover notification sent successfully")
	return nil
}

func statusEmoji(t database.AlertType) string {
	switch t {
	case database.AlertRecovery:
		return "✅"
	case database.AlertMissedHeartbeat:
		return "⏰"
	default:
		return "🚨"
	}
}
