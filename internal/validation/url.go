package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateOriginURL validates an allowed_origins entry. Entries are either a
// bare host ("localhost:3300") or a full http/https origin without a path.
func ValidateOriginURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("origin cannot be empty")
	}

	dangerous := []string{";", "&", "|", "`", "$", "(", ")", "<", ">", "\"", "'", "\\", "\n", "\r", " "}
	for _, char := range dangerous {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("origin contains dangerous character: %q", char)
		}
	}

	if !strings.Contains(rawURL, "://") {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme: %s (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("origin must have a valid hostname")
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("origin must not carry a path: %s", parsed.Path)
	}

	return nil
}
