package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/miniagent/miniagent/internal/tools"
)

// NewSpec exposes the whole catalog as a single "skill" tool: the name
// argument selects which skill body is returned as additional instructions
// for the model to follow.
func NewSpec(m *Manager) *tools.Spec {
	return &tools.Spec{
		Name:        "skill",
		Description: describeCatalog(m),
		ArgumentsSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Name of the skill to load"}
			},
			"required": ["name"]
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", err
			}
			entry, err := m.Get(in.Name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Skill %q loaded. Follow these instructions:\n\n%s", entry.Name, entry.Body), nil
		},
	}
}

func describeCatalog(m *Manager) string {
	var b strings.Builder
	b.WriteString("Load a skill: a set of specialised instructions for a task.\n\n")
	b.WriteString("Use this tool when one of the available skills matches the user's request; ")
	b.WriteString("the returned instructions then apply for the rest of the query.\n\nAvailable skills:\n")
	entries := m.List()
	if len(entries) == 0 {
		b.WriteString("(none installed)\n")
		return b.String()
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.Name, e.Description)
	}
	return b.String()
}
