package content

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelimiter = "---"

// SplitFrontMatter separates a leading YAML front-matter block from the
// markdown body. Text without a front-matter block yields nil metadata and
// the whole text as body. The closing delimiter must sit on its own line.
func SplitFrontMatter(raw string) (map[string]interface{}, string, error) {
	text := strings.TrimPrefix(raw, "\ufeff")

	firstLine, rest, found := strings.Cut(text, "\n")
	if !found || strings.TrimRight(firstLine, "\r") != frontMatterDelimiter {
		return nil, raw, nil
	}

	var block bytes.Buffer
	remaining := rest
	for {
		line, next, more := strings.Cut(remaining, "\n")
		if strings.TrimRight(line, "\r") == frontMatterDelimiter {
			meta := make(map[string]interface{})
			if err := yaml.Unmarshal(block.Bytes(), &meta); err != nil {
				return nil, raw, fmt.Errorf("invalid front matter: %w", err)
			}
			if !more {
				next = ""
			}
			return meta, next, nil
		}
		if !more {
			return nil, raw, fmt.Errorf("unterminated front matter")
		}
		block.WriteString(line)
		block.WriteByte('\n')
		remaining = next
	}
}
