// internal/web/notification_handlers.go - notification settings and test sends
package web

import (
	"net/http"
	"strings"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NotificationSettings is the read-only view of the notification config.
type NotificationSettings struct {
	Fallback       []database.Channel `json:"fallback"`
	WebhookTimeout string             `json:"webhook_timeout"`
	Pushover       PushoverSettings   `json:"pushover"`
}

type PushoverSettings struct {
	Configured bool   `json:"configured"`
	APIToken   string `json:"api_token"`
	UserKey    string `json:"user_key"`
	APIURL     string `json:"api_url"`
	Priority   int    `json:"priority"`
	Retry      int    `json:"retry"`
	Expire     int    `json:"expire"`
	Sound      string `json:"sound"`
	Device     string `json:"device"`
	Title      string `json:"title"`
	Template   string `json:"template"`
}

type TestNotificationRequest struct {
	Channel database.Channel `json:"channel" binding:"required"`
	Message string           `json:"message"`
}

// GET /api/notifications/settings
func (s *Server) getNotificationSettings(c *gin.Context) {
	cfg := s.config.Notifications

	fallback := make([]database.Channel, 0, len(cfg.Fallback))
	for _, ch := range cfg.Fallback {
		if ch.Type == database.ChannelPushover {
			ch.Target = maskToken(ch.Target)
		}
		fallback = append(fallback, ch)
	}

	settings := NotificationSettings{
		Fallback:       fallback,
		WebhookTimeout: cfg.WebhookTimeout.String(),
		Pushover: PushoverSettings{
			Configured: cfg.Pushover.APIToken != "",
			APIToken:   maskToken(cfg.Pushover.APIToken),
			UserKey:    maskToken(cfg.Pushover.UserKey),
			APIURL:     cfg.Pushover.APIURL,
			Priority:   cfg.Pushover.Priority,
			Retry:      cfg.Pushover.Retry,
			Expire:     cfg.Pushover.Expire,
			Sound:      cfg.Pushover.Sound,
			Device:     cfg.Pushover.Device,
			Title:      cfg.Pushover.Title,
			Template:   cfg.Pushover.Template,
		},
	}

	c.JSON(http.StatusOK, gin.H{"data": settings})
}

// POST /api/notifications/test - sends a synthetic alert through one channel
func (s *Server) sendTestNotification(c *gin.Context) {
	var req TestNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Message == "" {
		req.Message = "Test notification from Sentinel"
	}

	if err := s.dispatcher.SendTest(c.Request.Context(), req.Channel, req.Message); err != nil {
		if status, _ := classify(err); status != http.StatusInternalServerError {
			respondError(c, err)
			return
		}
		logrus.WithError(err).WithField("channel", req.Channel.Type).Warn("Test notification failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Test notification sent",
		"channel": req.Channel.Type,
	})
}

// maskToken masks secrets for API responses
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
