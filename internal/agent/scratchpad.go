// Package agent runs the per-query reason/act loop: it alternates between
// asking the model what to do next and executing the tools it picks, then
// streams the final answer. Progress is narrated as an ordered event stream.
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// A step is one entry in the scratchpad. Steps are appended in order and
// never mutated; render output is deterministic given the same steps.
type step interface {
	render(w *strings.Builder)
}

type thought struct {
	Text string
}

type act struct {
	CallID    string
	Tool      string
	Arguments json.RawMessage
	Category  string
}

type observe struct {
	CallID     string
	OK         bool
	Text       string
	DurationMs int64
}

type limitNotice struct {
	Reason string
}

func (s thought) render(w *strings.Builder) {
	fmt.Fprintf(w, "Thought: %s\n", s.Text)
}

func (s act) render(w *strings.Builder) {
	fmt.Fprintf(w, "Action: %s(%s)\n", s.Tool, compactJSON(s.Arguments))
}

func (s observe) render(w *strings.Builder) {
	if s.OK {
		fmt.Fprintf(w, "Observation (%dms): %s\n", s.DurationMs, s.Text)
		return
	}
	fmt.Fprintf(w, "Observation (%dms): ERROR: %s\n", s.DurationMs, s.Text)
}

func (s limitNotice) render(w *strings.Builder) {
	fmt.Fprintf(w, "Notice: %s\n", s.Reason)
}

// scratchpad is the append-only record of one query's iterations. It lives
// for a single Run call and is discarded afterwards.
type scratchpad struct {
	steps      []step
	byCategory map[string]int
	total      int
}

func newScratchpad() *scratchpad {
	return &scratchpad{byCategory: map[string]int{}}
}

func (p *scratchpad) addThought(text string) {
	p.steps = append(p.steps, thought{Text: text})
}

// addAct records a tool invocation and bumps the soft-limit counters.
func (p *scratchpad) addAct(callID, tool string, args json.RawMessage, category string) {
	p.steps = append(p.steps, act{CallID: callID, Tool: tool, Arguments: args, Category: category})
	p.total++
	if category != "" {
		p.byCategory[category]++
	}
}

func (p *scratchpad) addObserve(callID string, ok bool, text string, durationMs int64) {
	p.steps = append(p.steps, observe{CallID: callID, OK: ok, Text: text, DurationMs: durationMs})
}

func (p *scratchpad) addLimitNotice(reason string) {
	p.steps = append(p.steps, limitNotice{Reason: reason})
}

// toolCallCount reports acts in the given category, or all acts when
// category is empty.
func (p *scratchpad) toolCallCount(category string) int {
	if category == "" {
		return p.total
	}
	return p.byCategory[category]
}

func (p *scratchpad) empty() bool { return len(p.steps) == 0 }

// render formats the scratchpad as a prompt fragment, chronologically.
// Observations carry the pointer-inlined short form, never the full output.
func (p *scratchpad) render() string {
	var w strings.Builder
	for _, s := range p.steps {
		s.render(&w)
	}
	return w.String()
}

// compactJSON normalises argument whitespace so repeated renders of the
// same call are byte-identical.
func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
