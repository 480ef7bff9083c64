// Package skills discovers markdown skill definitions and exposes them to
// the model as loadable instruction sets.
package skills

// Entry is one discovered skill: YAML front-matter metadata plus the
// markdown body injected into the model prompt when the skill is invoked.
type Entry struct {
	// Name is the unique skill identifier (lowercase, hyphens allowed).
	Name string `json:"name" yaml:"name"`

	// Description explains what the skill does and when to use it.
	Description string `json:"description" yaml:"description"`

	// Body is the markdown instruction text.
	Body string `json:"-" yaml:"-"`

	// Path is where the skill was discovered.
	Path string `json:"path" yaml:"-"`

	// Priority is the source precedence; higher wins on name conflicts.
	Priority int `json:"-" yaml:"-"`
}
