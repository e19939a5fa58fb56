// internal/config/pushover.go - Pushover notification settings
package config

import (
	"fmt"
	"text/template"
)

// PushoverConfig holds the application credentials and message formatting for
// pushover channels. A channel's Target is the user or group key; UserKey is
// used when the target is empty.
type PushoverConfig struct {
	APIToken string `yaml:"api_token"`
	UserKey  string `yaml:"user_key"`
	APIURL   string `yaml:"api_url"`
	Priority int    `yaml:"priority"` // -2 (silent) to 2 (emergency)
	Retry    int    `yaml:"retry"`    // emergency priority only (seconds)
	Expire   int    `yaml:"expire"`   // emergency priority only (seconds)
	Sound    string `yaml:"sound"`
	Device   string `yaml:"device"`
	Title    string `yaml:"title"`    // title template
	Template string `yaml:"template"` // message template
}

func (p *PushoverConfig) setDefaults() {
	if p.APIURL == "" {
		p.APIURL = "https://api.pushover.net/1/messages.json"
	}
	if p.Title == "" {
		p.Title = "Sentinel: {{.Service}}"
	}
	if p.Template == "" {
		p.Template = "{{.Message}}"
	}
	if p.Sound == "" {
		p.Sound = "pushover"
	}
}

func (p *PushoverConfig) merge(partial *PushoverConfig) {
	if partial.APIToken != "" {
		p.APIToken = partial.APIToken
	}
	if partial.UserKey != "" {
		p.UserKey = partial.UserKey
	}
	if partial.APIURL != "" {
		p.APIURL = partial.APIURL
	}
	if partial.Priority != 0 {
		p.Priority = partial.Priority
	}
	if partial.Retry != 0 {
		p.Retry = partial.Retry
	}
	if partial.Expire != 0 {
		p.Expire = partial.Expire
	}
	if partial.Sound != "" {
		p.Sound = partial.Sound
	}
	if partial.Device != "" {
		p.Device = partial.Device
	}
	if partial.Title != "" {
		p.Title = partial.Title
	}
	if partial.Template != "" {
		p.Template = partial.Template
	}
}

// Validate ensures the Pushover configuration is valid
func (p *PushoverConfig) Validate() error {
	if p.Priority < -2 || p.Priority > 2 {
		return fmt.Errorf("notifications.pushover.priority must be between -2 and 2")
	}
	if p.Priority == 2 {
		if p.Retry < 30 {
			return fmt.Errorf("notifications.pushover.retry must be at least 30 seconds for emergency priority")
		}
		if p.Expire < 60 || p.Expire > 10800 {
			return fmt.Errorf("notifications.pushover.expire must be between 60 and 10800 seconds for emergency priority")
		}
	}
	if _, err := template.New("title").Parse(p.Title); err != nil {
		return fmt.Errorf("invalid pushover title template: %w", err)
	}
	if _, err := template.New("message").Parse(p.Template); err != nil {
		return fmt.Errorf("invalid pushover message template: %w", err)
	}
	return nil
}
