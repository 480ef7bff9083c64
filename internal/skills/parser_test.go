package skills

import (
	"strings"
	"testing"
)

const validSkill = `---
name: git-helper
description: Help with git workflows
---

# Git Helper

Use conventional commits.
`

func TestParseValidSkill(t *testing.T) {
	entry, err := Parse([]byte(validSkill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if entry.Name != "git-helper" {
		t.Errorf("name = %q", entry.Name)
	}
	if entry.Description != "Help with git workflows" {
		t.Errorf("description = %q", entry.Description)
	}
	if !strings.HasPrefix(entry.Body, "# Git Helper") {
		t.Errorf("body = %q", entry.Body)
	}
}

func TestParseRejectsInvalidSkills(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"no frontmatter":     "# Just markdown\n",
		"unclosed":           "---\nname: x\ndescription: y\n",
		"missing name":       "---\ndescription: y\n---\nbody\n",
		"missing desc":       "---\nname: x\n---\nbody\n",
		"uppercase name":     "---\nname: BadName\ndescription: y\n---\nbody\n",
		"name with spaces":   "---\nname: two words\ndescription: y\n---\nbody\n",
		"invalid yaml":       "---\nname: [\n---\nbody\n",
	}
	for label, content := range cases {
		if _, err := Parse([]byte(content)); err == nil {
			t.Errorf("%s: expected parse error", label)
		}
	}
}

func TestParseEmptyBodyAllowed(t *testing.T) {
	entry, err := Parse([]byte("---\nname: stub\ndescription: placeholder\n---\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if entry.Body != "" {
		t.Errorf("body = %q", entry.Body)
	}
}
