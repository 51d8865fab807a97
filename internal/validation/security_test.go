package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	docs := t.TempDir()
	blog := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(blog, "post.md"), []byte("# Post"), 0o644))
	roots := []string{docs, blog}

	tests := []struct {
		name     string
		path     string
		expected string
		wantErr  bool
	}{
		{"relative defaults to first root", "intro.md", filepath.Join(docs, "intro.md"), false},
		{"relative found in second root", "post.md", filepath.Join(blog, "post.md"), false},
		{"nested relative", "guide/setup.md", filepath.Join(docs, "guide", "setup.md"), false},
		{"absolute inside root", filepath.Join(blog, "post.md"), filepath.Join(blog, "post.md"), false},
		{"inner dots collapse", "guide/../intro.md", filepath.Join(docs, "intro.md"), false},
		{"parent traversal", "../secret.md", "", true},
		{"deep traversal", "guide/../../../etc/passwd", "", true},
		{"absolute outside roots", "/etc/passwd", "", true},
		{"empty", "", "", true},
		{"null byte", "intro\x00.md", "", true},
		{"shell metacharacter", "intro;rm.md", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := ResolvePath(tt.path, roots)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resolved)
		})
	}
}

func TestResolvePathWithoutRoots(t *testing.T) {
	_, err := ResolvePath("intro.md", nil)
	assert.Error(t, err)
}

func TestIsWithin(t *testing.T) {
	assert.True(t, IsWithin("/srv/docs", "/srv/docs"))
	assert.True(t, IsWithin("/srv/docs", "/srv/docs/a/b.md"))
	assert.False(t, IsWithin("/srv/docs", "/srv/docs-other/a.md"))
	assert.False(t, IsWithin("/srv/docs", "/srv"))
}

func TestValidateOriginURL(t *testing.T) {
	assert.NoError(t, ValidateOriginURL("localhost:3300"))
	assert.NoError(t, ValidateOriginURL("http://localhost:3300"))
	assert.NoError(t, ValidateOriginURL("https://docs.example.com/"))
	assert.Error(t, ValidateOriginURL(""))
	assert.Error(t, ValidateOriginURL("ftp://example.com"))
	assert.Error(t, ValidateOriginURL("http://example.com/path"))
	assert.Error(t, ValidateOriginURL("http://example.com;rm"))
}

func TestValidateFileExtension(t *testing.T) {
	allowed := []string{".md", ".mdx"}
	assert.NoError(t, ValidateFileExtension("intro.md", allowed))
	assert.NoError(t, ValidateFileExtension("Intro.MDX", allowed))
	assert.Error(t, ValidateFileExtension("intro.txt", allowed))
	assert.Error(t, ValidateFileExtension("README", allowed))
	assert.Error(t, ValidateFileExtension("", allowed))
}

func TestValidateOrigin(t *testing.T) {
	allowedOrigins := []string{
		"http://localhost:3000",
		"http://127.0.0.1:3000",
		"https://example.com",
	}

	tests := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{
			name:    "allowed localhost origin",
			origin:  "http://localhost:3000",
			wantErr: false,
		},
		{
			name:    "allowed 127.0.0.1 origin",
			origin:  "http://127.0.0.1:3000",
			wantErr: false,
		},
		{
			name:    "allowed https origin",
			origin:  "https://example.com",
			wantErr: false,
		},
		{
			name:    "empty origin",
			origin:  "",
			wantErr: true,
		},
		{
			name:    "disallowed origin",
			origin:  "http://malicious.com",
			wantErr: true,
		},
		{
			name:    "javascript protocol",
			origin:  "javascript:alert('xss')",
			wantErr: true,
		},
		{
			name:    "file protocol",
			origin:  "file:///etc/passwd",
			wantErr: true,
		},
		{
			name:    "malformed origin",
			origin:  "not-a-url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrigin(tt.origin, allowedOrigins)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOrigin() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal text",
			input:    "Hello World",
			expected: "Hello World",
		},
		{
			name:     "text with null bytes",
			input:    "Hello\x00World",
			expected: "HelloWorld",
		},
		{
			name:     "text with control characters",
			input:    "Hello\x01\x02World",
			expected: "HelloWorld",
		},
		{
			name:     "preserve allowed whitespace",
			input:    "Hello\t\n\rWorld",
			expected: "Hello\t\n\rWorld",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "mixed dangerous characters",
			input:    "Hello\x00\x01\x02\tWorld\n",
			expected: "Hello\tWorld\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeInput(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeInput() = %q, expected %q", result, tt.expected)
			}
		})
	}
}
