// Package config loads the service configuration from the environment and
// the declarative use-case manifests read at startup. The manifest registry
// is the single source of truth for workbook/site mappings, view catalogs,
// and slide layouts; no other package parses manifest files.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all environment-sourced settings. Values are resolved once
// at startup; components receive the fields they need, not the whole struct.
type Config struct {
	// Port is the HTTP listen port for the API and health endpoints.
	Port int

	// Env is the deployment environment ("production" enables strict TLS
	// verification on the remote analytics client).
	Env string

	// RedisHost and RedisPort locate the Redis instance backing the queue.
	RedisHost string
	RedisPort int

	// QueueConcurrency bounds the number of jobs a worker processes at once.
	QueueConcurrency int

	// QueueAttempts is the default maximum attempts per job.
	QueueAttempts int

	// RemoteBaseURL is the base URL of the Tableau REST API
	// (e.g. https://tableau.example.com).
	RemoteBaseURL string

	// PATName and PATSecret are the global personal-access-token
	// credentials. Per-site overrides are resolved from the environment at
	// request time by the tableau client (<SITE_UPPER>_PAT_NAME/_PAT_SECRET).
	PATName   string
	PATSecret string

	// NotificationAPIURL and APIGatewayToken configure the outbound email
	// gateway used to deliver reports and failure notices.
	NotificationAPIURL string
	APIGatewayToken    string

	// EmailFrom, EmailTeamTag and EmailProductTag tag outbound email for
	// routing and attribution in the gateway.
	EmailFrom       string
	EmailTeamTag    string
	EmailProductTag string

	// RendererURL is the endpoint of the external presentation writer that
	// turns a presentation manifest into .pptx bytes. Empty selects the
	// local debug renderer.
	RendererURL string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// FromEnv builds a Config from the process environment, applying defaults
// for everything that has a sensible one. It returns an error only for
// malformed numeric values — missing credentials are surfaced later by the
// component that needs them, so a partially configured process can still
// serve health endpoints.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:                envOrDefault("NODE_ENV", "development"),
		RedisHost:          envOrDefault("REDIS_HOST", "127.0.0.1"),
		RemoteBaseURL:      os.Getenv("REMOTE_BASE_URL"),
		PATName:            os.Getenv("PAT_NAME"),
		PATSecret:          os.Getenv("PAT_SECRET"),
		NotificationAPIURL: os.Getenv("NOTIFICATION_API_URL"),
		APIGatewayToken:    os.Getenv("API_GATEWAY_TOKEN"),
		EmailFrom:          envOrDefault("EMAIL_FROM", "exports@example.com"),
		EmailTeamTag:       os.Getenv("EMAIL_TEAM_TAG"),
		EmailProductTag:    os.Getenv("EMAIL_PRODUCT_TAG"),
		RendererURL:        os.Getenv("RENDERER_URL"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Port, err = envInt("PORT", 3000); err != nil {
		return nil, err
	}
	if cfg.RedisPort, err = envInt("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.QueueConcurrency, err = envInt("QUEUE_CONCURRENCY", 5); err != nil {
		return nil, err
	}
	if cfg.QueueAttempts, err = envInt("QUEUE_ATTEMPTS", 3); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RedisAddr returns the host:port address of the Redis instance.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Production reports whether the process runs in production mode.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// envOrDefault returns the environment variable value or a fallback.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envInt parses an integer environment variable, applying a default when
// unset and failing loudly when set to garbage.
func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q is not an integer", key, v)
	}
	return n, nil
}
