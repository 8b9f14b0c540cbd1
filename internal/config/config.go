// Package config loads and validates the monitor's runtime configuration
// from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/env"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/metrics"
)

// Config holds everything a monitoring run needs. Immutable after Load.
type Config struct {
	AWSRegion string
	Accounts  []metrics.MonitoredAccount

	Thresholds    map[string]alert.Threshold
	HealthWeights metrics.HealthWeights

	// ScheduleInterval is both the collection lookback window and the base
	// of the alert cooldown (interval * CooldownFactor).
	ScheduleInterval time.Duration
	CooldownFactor   float64
	RunDeadline      time.Duration
	MetricPeriod     time.Duration

	AlertStateTable string

	// Notification channels; a channel is configured iff its value is set.
	SlackWebhookURL     string
	PagerDutyRoutingKey string
	SNSTopicARN         string

	// Metric sinks; a sink is configured iff its value is set.
	MetricsBucket      string
	OpenSearchEndpoint string

	EventBusName          string
	MetaAlertFailureRatio float64
	CloudWatchRPS         float64
}

// Cooldown returns the effective alert suppression window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(float64(c.ScheduleInterval) * c.CooldownFactor)
}

// defaultThresholds are applied for any metric not present in
// ALERT_THRESHOLDS. health_score thresholds are lower bounds.
func defaultThresholds() map[string]alert.Threshold {
	return map[string]alert.Threshold{
		metrics.MetricErrorRate:         {Warning: 5, Critical: 10},
		metrics.MetricMemoryUtilization: {Warning: 80, Critical: 95},
		metrics.MetricHealthScore:       {Warning: 70, Critical: 50},
		metrics.MetricCostGBSeconds:     {Warning: 500, Critical: 1000},
	}
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	region, err := env.GetRequired("AWS_REGION", env.ParseNonEmptyString)
	if err != nil {
		return nil, err
	}

	accounts, err := env.GetRequired("MONITORED_ACCOUNTS", env.ParseJSON[[]metrics.MonitoredAccount]())
	if err != nil {
		return nil, err
	}

	stateTable, err := env.GetRequired("ALERT_STATE_TABLE", env.ParseNonEmptyString)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AWSRegion:       region,
		Accounts:        accounts,
		AlertStateTable: stateTable,

		Thresholds:    defaultThresholds(),
		HealthWeights: env.Get("HEALTH_WEIGHTS", metrics.DefaultHealthWeights(), env.ParseJSON[metrics.HealthWeights]()),

		ScheduleInterval: env.Get("SCHEDULE_INTERVAL", 5*time.Minute, env.ParseDuration),
		CooldownFactor:   env.Get("COOLDOWN_FACTOR", 1.0, env.ParseFloat),
		RunDeadline:      env.Get("RUN_DEADLINE", 4*time.Minute, env.ParseDuration),
		MetricPeriod:     env.Get("METRIC_PERIOD", 5*time.Minute, env.ParseDuration),

		SlackWebhookURL:     env.Get("SLACK_WEBHOOK_URL", "", env.ParseString),
		PagerDutyRoutingKey: env.Get("PAGERDUTY_ROUTING_KEY", "", env.ParseString),
		SNSTopicARN:         env.Get("SNS_TOPIC_ARN", "", env.ParseString),

		MetricsBucket:      env.Get("METRICS_BUCKET", "", env.ParseString),
		OpenSearchEndpoint: env.Get("OPENSEARCH_ENDPOINT", "", env.ParseString),

		EventBusName:          env.Get("EVENT_BUS_NAME", "default", env.ParseNonEmptyString),
		MetaAlertFailureRatio: env.Get("META_ALERT_FAILURE_RATIO", 0.5, env.ParseFloat),
		CloudWatchRPS:         env.Get("CW_RATE_LIMIT", 8.0, env.ParseFloat),
	}

	overrides := env.Get("ALERT_THRESHOLDS", nil, env.ParseJSON[map[string]alert.Threshold]())
	for name, th := range overrides {
		cfg.Thresholds[name] = th
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("MONITORED_ACCOUNTS must list at least one account")
	}

	for i, account := range c.Accounts {
		if account.AccountID == "" || account.Region == "" || account.RoleARN == "" {
			return fmt.Errorf("monitored account %d: accountId, region and roleArn are all required", i)
		}
	}

	for name, th := range c.Thresholds {
		if alert.LowerIsWorse(name) {
			if th.Critical > th.Warning {
				return fmt.Errorf("threshold %q: critical bound %.2f must not exceed warning bound %.2f", name, th.Critical, th.Warning)
			}
		} else if th.Warning > th.Critical {
			return fmt.Errorf("threshold %q: warning bound %.2f must not exceed critical bound %.2f", name, th.Warning, th.Critical)
		}
	}

	if c.CooldownFactor <= 0 {
		return fmt.Errorf("COOLDOWN_FACTOR must be positive")
	}

	if c.MetaAlertFailureRatio < 0 || c.MetaAlertFailureRatio > 1 {
		return fmt.Errorf("META_ALERT_FAILURE_RATIO must be within [0, 1]")
	}

	return nil
}
