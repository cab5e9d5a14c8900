package config

import (
	"strings"
	"time"
)

const (
	defaultMetricsPrefix     = "catalogue"
	defaultNotificationsName = "catalogue-gen"
)

// ObservabilityConfig covers the statsd sink and the failure notification fan-out.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Notifications ObservabilityNotificationsConfig
}

func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
}

// ObservabilityMetricsConfig points the statsd client at an agent.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string `env:"METRICS_PREFIX"         envDefault:"catalogue"`
}

// Sanitize turns metrics off when no agent address is left after trimming.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	c.Enabled = c.Enabled && c.StatsdAddress != ""
	c.Prefix = trimOr(c.Prefix, defaultMetricsPrefix)
}

// IsEnabled reports whether a statsd client should be built.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityNotificationsConfig selects where terminal job failures are announced.
type ObservabilityNotificationsConfig struct {
	Enabled    bool                        `env:"NOTIFICATIONS_ENABLED"     envDefault:"false"`
	Timeout    time.Duration               `env:"NOTIFICATIONS_TIMEOUT"     envDefault:"5s"`
	RetryLimit int                         `env:"NOTIFICATIONS_RETRY_LIMIT" envDefault:"3"`
	Slack      SlackNotificationConfig     `                                                envPrefix:"NOTIFICATIONS_SLACK_"`
	PagerDuty  PagerDutyNotificationConfig `                                                envPrefix:"NOTIFICATIONS_PAGERDUTY_"`
}

// Sanitize switches off any sink missing its credential instead of failing startup, and
// every sink when notifications as a whole are off.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	c.RetryLimit = max(c.RetryLimit, 0)

	c.Slack.sanitize()
	c.PagerDuty.sanitize()
	c.Slack.Enabled = c.Enabled && c.Slack.Enabled && c.Slack.WebhookURL != ""
	c.PagerDuty.Enabled = c.Enabled && c.PagerDuty.Enabled && c.PagerDuty.RoutingKey != ""
}

// DeliveryTimeout bounds one failure fan-out. Each sink may spend Timeout on every try and
// backs off between tries, so the budget doubles the per-try total.
func (c *ObservabilityNotificationsConfig) DeliveryTimeout() time.Duration {
	return c.Timeout * time.Duration(2*(c.RetryLimit+1))
}

// AnySinkEnabled is false when a failure would go nowhere.
func (c *ObservabilityNotificationsConfig) AnySinkEnabled() bool {
	return c.Enabled && (c.Slack.Enabled || c.PagerDuty.Enabled)
}

// SlackNotificationConfig is an incoming-webhook target.
type SlackNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	WebhookURL string `env:"WEBHOOK_URL"`
	Channel    string `env:"CHANNEL"`
	Username   string `env:"USERNAME"    envDefault:"catalogue-gen"`
	// StatusURLPrefix turns job ids into links, e.g. https://catalogue.example/api/catalogue/jobs.
	StatusURLPrefix string `env:"STATUS_URL_PREFIX"`
}

func (c *SlackNotificationConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.Channel = strings.TrimSpace(c.Channel)
	c.StatusURLPrefix = strings.TrimSpace(c.StatusURLPrefix)
	c.Username = trimOr(c.Username, defaultNotificationsName)
}

// PagerDutyNotificationConfig is an Events API v2 integration.
type PagerDutyNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"catalogue-gen"`
	Component  string `env:"COMPONENT"   envDefault:"catalogue-worker"`
}

func (c *PagerDutyNotificationConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	c.Source = trimOr(c.Source, defaultNotificationsName)
	c.Component = trimOr(c.Component, "catalogue-worker")
}

// trimOr trims v and substitutes def when nothing is left.
func trimOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
