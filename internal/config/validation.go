package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/livedoc/internal/logging"
	"github.com/conneroisu/livedoc/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateContentConfig(&config.Content); err != nil {
		return fmt.Errorf("content config: %w", err)
	}
	if err := validateTimingConfig(&config.Timing); err != nil {
		return fmt.Errorf("timing config: %w", err)
	}
	if _, err := logging.ParseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if config.Logging.Format != "text" && config.Logging.Format != "json" {
		return &ValidationError{
			Field:       "logging.format",
			Value:       config.Logging.Format,
			Message:     "format must be text or json",
			Suggestions: []string{"Use 'json' for machine-readable logs"},
		}
	}
	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
		}
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	for _, origin := range config.AllowedOrigins {
		if err := validation.ValidateOriginURL(origin); err != nil {
			return &ValidationError{
				Field:   "server.allowed_origins",
				Value:   origin,
				Message: err.Error(),
			}
		}
	}

	return nil
}

func validateContentConfig(config *ContentConfig) error {
	if len(config.Roots) == 0 {
		return &ValidationError{
			Field:       "content.roots",
			Message:     "at least one content root is required",
			Suggestions: []string{"Set content.roots to the directory holding your markdown, e.g. ./docs"},
		}
	}
	for _, root := range config.Roots {
		if err := validatePath(root); err != nil {
			return fmt.Errorf("invalid content root '%s': %w", root, err)
		}
	}
	for _, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return &ValidationError{
				Field:   "content.extensions",
				Value:   ext,
				Message: "extensions must start with a dot",
			}
		}
	}
	return nil
}

func validateTimingConfig(config *TimingConfig) error {
	durations := map[string]time.Duration{
		"timing.ping_interval":      config.PingInterval,
		"timing.stale_threshold":    config.StaleThreshold,
		"timing.cursor_throttle":    config.CursorThrottle,
		"timing.content_debounce":   config.ContentDebounce,
		"timing.render_interval":    config.RenderInterval,
		"timing.autosave_interval":  config.AutosaveInterval,
		"timing.keepalive_interval": config.KeepaliveInterval,
		"timing.reconnect_delay":    config.ReconnectDelay,
	}
	for field, d := range durations {
		if d <= 0 {
			return &ValidationError{Field: field, Value: d, Message: "duration must be positive"}
		}
	}

	// A client that pings once per interval must never look stale.
	if config.PingInterval >= config.StaleThreshold {
		return &ValidationError{
			Field:   "timing.ping_interval",
			Value:   config.PingInterval,
			Message: "ping interval must be shorter than the stale threshold",
			Suggestions: []string{
				fmt.Sprintf("Lower ping_interval below %s", config.StaleThreshold),
			},
		}
	}
	return nil
}

// validatePath validates a content root for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
