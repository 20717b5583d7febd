package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// RunnerFunc is a type-erased workflow handler that accepts raw JSON
// input. The typed Definition[T] is converted to a RunnerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
type RunnerFunc func(wf *Workflow, input []byte) error

// FailureFunc is the type-erased form of Definition.OnFailure.
type FailureFunc func(ctx context.Context, run *Run, input []byte, err error)

// versionedRunner holds a runner tagged with its version number.
type versionedRunner struct {
	version int
	runner  RunnerFunc
	failure FailureFunc
}

// Registry maps workflow names to versioned runner functions. The highest
// version is used for new runs. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]versionedRunner
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]versionedRunner),
	}
}

// RegisterDefinition registers a typed workflow definition. Registering
// the same name and version again replaces the earlier handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	version := def.Version
	if version <= 0 {
		version = 1
	}

	decode := func(input []byte) (T, error) {
		var t T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &t); err != nil {
				return t, fmt.Errorf("unmarshal input for workflow %q: %w", def.Name, err)
			}
		}
		return t, nil
	}

	vr := versionedRunner{
		version: version,
		runner: func(wf *Workflow, input []byte) error {
			t, err := decode(input)
			if err != nil {
				return err
			}
			return def.Handler(wf, t)
		},
	}
	if def.OnFailure != nil {
		vr.failure = func(ctx context.Context, run *Run, input []byte, runErr error) {
			t, err := decode(input)
			if err != nil {
				return
			}
			def.OnFailure(ctx, run, t, runErr)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.versions[def.Name]
	for i, v := range existing {
		if v.version == version {
			existing[i] = vr
			return
		}
	}
	r.versions[def.Name] = append(existing, vr)
}

// Get returns the latest-version runner for the given workflow name.
func (r *Registry) Get(name string) (RunnerFunc, bool) {
	vr, ok := r.lookup(name, 0)
	return vr.runner, ok
}

// GetVersion returns the runner for a specific version of a workflow.
// If version <= 0, behaves like Get.
func (r *Registry) GetVersion(name string, version int) (RunnerFunc, bool) {
	vr, ok := r.lookup(name, version)
	return vr.runner, ok
}

// LatestVersion returns the highest registered version number for a
// workflow, or 0 if it is not registered.
func (r *Registry) LatestVersion(name string) int {
	vr, ok := r.lookup(name, 0)
	if !ok {
		return 0
	}
	return vr.version
}

// Names returns all registered workflow names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string, version int) (versionedRunner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[name]
	if len(versions) == 0 {
		return versionedRunner{}, false
	}
	if version > 0 {
		for _, v := range versions {
			if v.version == version {
				return v, true
			}
		}
		return versionedRunner{}, false
	}

	best := versions[0]
	for _, v := range versions[1:] {
		if v.version > best.version {
			best = v
		}
	}
	return best, true
}
