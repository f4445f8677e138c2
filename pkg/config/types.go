package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the main configuration struct, shared by the CLI client and
// the development stub backend (each reads the sections it cares about).
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Stub      StubConfig      `yaml:"stub"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
}

// ClientConfig holds the chat client's connection settings.
type ClientConfig struct {
	// APIBase is the REST base URL, e.g. http://localhost:8081.
	APIBase string `yaml:"api_base"`
	// WSURL is the event-stream endpoint, e.g. ws://localhost:8081/ws.
	WSURL     string `yaml:"ws_url"`
	ProjectID string `yaml:"project_id"`
	// ReconnectDelay is the constant pause between reconnect attempts
	// ("3s"); no backoff is applied.
	ReconnectDelay string `yaml:"reconnect_delay"`
	HistoryLimit   int    `yaml:"history_limit"`
}

// StubConfig holds the development stub backend's settings.
type StubConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
	// MaxBodySize accepts humanized sizes ("1MB").
	MaxBodySize string `yaml:"max_body_size"`
	RateLimit   struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	// Tokens the stub accepts as bearer credentials; empty allows all.
	Tokens []string `yaml:"tokens"`
	// Generation scripts the stub plays back, keyed by a trigger word
	// found in the message content; "default" is the fallback.
	Generation GenerationScript `yaml:"generation"`
}

// GenerationScript describes the fake generation run the stub emits.
type GenerationScript struct {
	// StepDelay between progress events ("200ms").
	StepDelay string   `yaml:"step_delay"`
	Steps     []string `yaml:"steps"`
	Files     []string `yaml:"files"`
	// ClarifyFirst makes the stub ask one clarification round before
	// generating.
	ClarifyFirst bool     `yaml:"clarify_first"`
	Questions    []string `yaml:"questions"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetentionConfig drives the stub's stale-thread purge runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Period is how old a thread must be before it is purged ("720h").
	Period string `yaml:"period"`
}

// Addr returns the stub listen address in host:port form.
func (c *Config) Addr() string {
	port := c.Stub.Port
	if port == 0 {
		port = 8081
	}
	return fmt.Sprintf("%s:%d", c.Stub.Address, port)
}

// ReconnectDelay parses the client reconnect delay, defaulting when unset
// or malformed.
func (c *ClientConfig) ReconnectDelayOr(def time.Duration) time.Duration {
	d, err := time.ParseDuration(c.ReconnectDelay)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// MaxBodyBytes parses the humanized stub body limit, defaulting to 1MB.
func (s *StubConfig) MaxBodyBytes() int64 {
	if s.MaxBodySize == "" {
		return 1 << 20
	}
	n, err := humanize.ParseBytes(s.MaxBodySize)
	if err != nil {
		return 1 << 20
	}
	return int64(n)
}

// StepDelayOr parses the script's inter-step delay.
func (g *GenerationScript) StepDelayOr(def time.Duration) time.Duration {
	d, err := time.ParseDuration(g.StepDelay)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// PeriodOr parses the retention period.
func (r *RetentionConfig) PeriodOr(def time.Duration) time.Duration {
	d, err := time.ParseDuration(r.Period)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
