package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatterDelimiter marks the beginning and end of YAML front-matter.
const frontmatterDelimiter = "---"

// ParseFile parses a skill markdown file.
func ParseFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	entry, err := Parse(data)
	if err != nil {
		return nil, err
	}
	entry.Path = path
	return entry, nil
}

// Parse parses skill content: YAML front-matter followed by a markdown body.
func Parse(data []byte) (*Entry, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var entry Entry
	if err := yaml.Unmarshal(frontmatter, &entry); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if entry.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	for _, r := range entry.Name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return nil, fmt.Errorf("skill name must be lowercase alphanumeric with hyphens: got %q", entry.Name)
		}
	}
	if entry.Description == "" {
		return nil, fmt.Errorf("skill description is required")
	}

	entry.Body = strings.TrimSpace(string(body))
	return &entry, nil
}

// splitFrontmatter separates YAML front-matter from the markdown body.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontmatterLines []string
	foundClosing := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			foundClosing = true
			break
		}
		frontmatterLines = append(frontmatterLines, line)
	}
	if !foundClosing {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	return []byte(strings.Join(frontmatterLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}
