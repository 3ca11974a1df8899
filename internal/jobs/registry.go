package jobs

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

// Kind is a command kind a job can be submitted for.
type Kind struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"params"`
	// Validate checks cross-argument constraints the params can't express.
	Validate func(args map[string]any) error `json:"-"`
	// JobName returns the default job name, the kind name is used when nil.
	JobName func(args map[string]any) string `json:"-"`
}

func (k Kind) jobName(args map[string]any) string {
	if k.JobName != nil {
		if name := k.JobName(args); name != "" {
			return name
		}
	}
	return k.Name
}

// Target says how to run a kind.
type Target struct {
	// Path is the executable, looked up in PATH when it contains no separator.
	Path string
	// Script, when set, must exist and is passed as the first argument
	// (e.g. Path is an interpreter).
	Script string
	// Args are placed before the job arguments.
	Args []string
	// Env nil means the child inherits the environment.
	Env []string
}

type entry struct {
	kind   Kind
	target Target
}

// Registry maps kind names to their schema and executable.
type Registry struct {
	mx      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a kind. Kinds can't be registered twice.
func (r *Registry) Register(kind Kind, target Target) error {
	if kind.Name == "" {
		return errors.New("kind name is empty")
	}
	if target.Path == "" {
		return fmt.Errorf("kind %s: target path is empty", kind.Name)
	}
	seen := make(map[string]struct{}, len(kind.Params))
	for _, p := range kind.Params {
		if p.Name == "" || !strings.HasPrefix(p.Flag, "-") {
			return fmt.Errorf("kind %s: invalid param %q with flag %q", kind.Name, p.Name, p.Flag)
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("kind %s: duplicate param %q", kind.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	if _, ok := r.entries[kind.Name]; ok {
		return fmt.Errorf("kind %s already registered", kind.Name)
	}
	r.entries[kind.Name] = entry{kind: kind, target: target}
	return nil
}

// Kinds returns registered kinds sorted by name.
func (r *Registry) Kinds() []Kind {
	r.mx.RLock()
	defer r.mx.RUnlock()
	ret := make([]Kind, 0, len(r.entries))
	for _, e := range r.entries {
		ret = append(ret, e.kind)
	}
	slices.SortFunc(ret, func(a, b Kind) int { return strings.Compare(a.Name, b.Name) })
	return ret
}

// resolve finds the kind and checks its executable and script are runnable.
// The returned target has an absolute or PATH resolved Path.
func (r *Registry) resolve(name string) (Kind, Target, error) {
	r.mx.RLock()
	e, ok := r.entries[name]
	r.mx.RUnlock()
	if !ok {
		return Kind{}, Target{}, fmt.Errorf("unknown command kind %q", name)
	}

	target := e.target
	path, err := exec.LookPath(target.Path)
	if err != nil {
		return Kind{}, Target{}, fmt.Errorf("kind %s: resolving executable: %w", name, err)
	}
	target.Path = path

	if target.Script != "" {
		info, err := os.Stat(target.Script)
		if err != nil {
			return Kind{}, Target{}, fmt.Errorf("kind %s: resolving script: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			return Kind{}, Target{}, fmt.Errorf("kind %s: script %s is not a regular file", name, target.Script)
		}
	}
	return e.kind, target, nil
}

func (t Target) argv(jobArgs []string) []string {
	ret := make([]string, 0, len(t.Args)+len(jobArgs)+1)
	if t.Script != "" {
		ret = append(ret, t.Script)
	}
	ret = append(ret, t.Args...)
	return append(ret, jobArgs...)
}
