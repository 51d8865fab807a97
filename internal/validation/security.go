// Package validation provides security validation functions for preventing
// path traversal out of the content roots, cross-origin socket hijacking,
// and control characters in user-supplied display text.
package validation

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath maps a requested document path onto an absolute path under one
// of the configured content roots. Relative paths are tried against each root
// in order and the first existing file wins; when none exists the first root
// is used. Absolute paths must already lie inside a root.
func ResolvePath(path string, roots []string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if len(roots) == 0 {
		return "", fmt.Errorf("no content roots configured")
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null byte")
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return "", fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	absRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("invalid content root %s: %w", root, err)
		}
		absRoots = append(absRoots, abs)
	}

	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		for _, root := range absRoots {
			if IsWithin(root, clean) {
				return clean, nil
			}
		}
		return "", fmt.Errorf("path escapes content roots: %s", path)
	}

	cleanPath := filepath.Clean(path)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", path)
	}

	var fallback string
	for _, root := range absRoots {
		candidate := filepath.Join(root, cleanPath)
		if !IsWithin(root, candidate) {
			return "", fmt.Errorf("path traversal detected: %s", path)
		}
		if fallback == "" {
			fallback = candidate
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return fallback, nil
}

// IsWithin reports whether target is root itself or lies beneath it.
func IsWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// ValidateOrigin validates WebSocket origin for CSRF protection
func ValidateOrigin(origin string, allowedOrigins []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	for _, allowed := range allowedOrigins {
		if origin == allowed || originURL.Host == allowed {
			return nil
		}
	}

	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}

// ValidateFileExtension validates file extensions against an allowlist
func ValidateFileExtension(filename string, allowedExtensions []string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return fmt.Errorf("file must have an extension")
	}

	for _, allowed := range allowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}

	return fmt.Errorf("file extension '%s' is not allowed", ext)
}

// SanitizeInput strips null bytes and control characters other than common
// whitespace. Applied to display names and routes arriving from clients.
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var sanitized strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' || r == '\r' {
			sanitized.WriteRune(r)
		}
	}

	return sanitized.String()
}
