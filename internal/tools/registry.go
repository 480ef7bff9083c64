package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/miniagent/miniagent/internal/aerrors"
)

// DefaultTimeout applies to tools that do not declare their own.
const DefaultTimeout = 60 * time.Second

// maxArgsSize bounds tool argument payloads.
const maxArgsSize = 1 << 20

// Registry is the immutable-after-startup catalog of callable tools.
// Registration happens while the process wires itself together; afterwards
// the registry is only read, so lookups need no locking.
type Registry struct {
	defaultTimeout time.Duration
	tools          map[string]*entry
	order          []string
}

type entry struct {
	spec   *Spec
	schema *jsonschema.Schema
}

// NewRegistry creates an empty registry. defaultTimeout <= 0 selects
// DefaultTimeout.
func NewRegistry(defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Registry{
		defaultTimeout: defaultTimeout,
		tools:          map[string]*entry{},
	}
}

// Register adds a tool, compiling its argument schema. Duplicate names and
// invalid schemas are registration errors, surfaced at startup.
func (r *Registry) Register(spec *Spec) error {
	if spec == nil || spec.Name == "" {
		return errors.New("tool spec requires a name")
	}
	if spec.Handler == nil {
		return fmt.Errorf("tool %s has no handler", spec.Name)
	}
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}

	schemaDoc := spec.ArgumentsSchema
	if len(schemaDoc) == 0 {
		schemaDoc = json.RawMessage(`{"type":"object"}`)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(spec.Name+".json", bytes.NewReader(schemaDoc)); err != nil {
		return fmt.Errorf("tool %s schema: %w", spec.Name, err)
	}
	schema, err := compiler.Compile(spec.Name + ".json")
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", spec.Name, err)
	}

	r.tools[spec.Name] = &entry{spec: spec, schema: schema}
	r.order = append(r.order, spec.Name)
	return nil
}

// List returns all tool specs in registration order.
func (r *Registry) List() []*Spec {
	specs := make([]*Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].spec)
	}
	return specs
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Get returns the spec for name.
func (r *Registry) Get(name string) (*Spec, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, aerrors.Newf(aerrors.KindNotFound, "tool not found: %s", name)
	}
	return e.spec, nil
}

// Invoke validates args against the tool's schema and runs the handler
// under the per-call timeout and the caller's cancellation context.
//
// Error kinds: NotFound (unknown tool), BadArguments (validation failure,
// handler not invoked), ToolTimeout, Cancelled, ToolFailed.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	e, ok := r.tools[name]
	if !ok {
		return "", aerrors.Newf(aerrors.KindNotFound, "tool not found: %s", name)
	}
	if len(args) > maxArgsSize {
		return "", aerrors.Newf(aerrors.KindBadArguments, "tool %s: arguments exceed %d bytes", name, maxArgsSize)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return "", aerrors.Wrap(aerrors.KindBadArguments, fmt.Sprintf("tool %s: arguments are not valid JSON", name), err)
	}
	if err := e.schema.Validate(decoded); err != nil {
		return "", aerrors.Wrap(aerrors.KindBadArguments, fmt.Sprintf("tool %s: invalid arguments", name), err)
	}

	timeout := e.spec.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.spec.Handler(callCtx, args)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return "", classifyHandlerErr(name, callCtx, ctx, out.err)
		}
		return out.result, nil
	case <-callCtx.Done():
		// The handler goroutine keeps running until it observes callCtx;
		// the loop gets its answer now either way.
		return "", classifyHandlerErr(name, callCtx, ctx, callCtx.Err())
	}
}

// classifyHandlerErr maps a handler failure to the error taxonomy. The
// parent context distinguishes query cancellation from a per-call timeout.
func classifyHandlerErr(name string, callCtx, parent context.Context, err error) error {
	if parent.Err() != nil {
		return aerrors.Wrap(aerrors.KindCancelled, fmt.Sprintf("tool %s cancelled", name), parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return aerrors.Newf(aerrors.KindToolTimeout, "tool %s timed out", name)
	}
	if ae := new(aerrors.Error); errors.As(err, &ae) {
		return err
	}
	return aerrors.Wrap(aerrors.KindToolFailed, fmt.Sprintf("tool %s failed", name), err)
}
