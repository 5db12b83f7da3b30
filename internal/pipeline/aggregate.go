package pipeline

import (
	"path/filepath"

	"smbload/internal"
)

// Registry collects key/name pairs for one reference entity kind. The first
// registration of a key wins; later ones are ignored. Keys keep insertion
// order so submissions are deterministic.
type Registry struct {
	order []string
	names map[string]string
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]string{}}
}

// Register stores key with name unless the key is already present and
// reports whether it was added.
func (r *Registry) Register(key, name string) bool {
	if _, exists := r.names[key]; exists {
		return false
	}
	r.names[key] = name
	r.order = append(r.order, key)
	return true
}

func (r *Registry) Name(key string) (string, bool) {
	name, ok := r.names[key]
	return name, ok
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Residual returns the keys that are not in known, in registration order.
func (r *Registry) Residual(known KeySet) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.order))
	for _, key := range r.order {
		if !known.Has(key) {
			out = append(out, key)
		}
	}
	return out
}

// KeySet is the set of keys already persisted for one entity kind.
type KeySet map[string]struct{}

func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s KeySet) Add(keys ...string) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

func (s KeySet) Clone() KeySet {
	out := make(KeySet, len(s))
	for key := range s {
		out[key] = struct{}{}
	}
	return out
}

type FileOutcome string

const (
	OutcomeValid    FileOutcome = "valid"
	OutcomeDegraded FileOutcome = "degraded"
	OutcomeFailed   FileOutcome = "failed"
	OutcomeSkipped  FileOutcome = "skipped"
)

// FileResult is everything one file contributes to the load.
type FileResult struct {
	Path        string
	Documents   int
	Receivers   *Registry
	Providers   *Registry
	Kinds       *Registry
	Measures    []internal.SupportMeasure
	Diagnostics []internal.Diagnostic
	Failed      bool
	Skipped     bool
}

func NewFileResult(path string) *FileResult {
	return &FileResult{
		Path:      path,
		Receivers: NewRegistry(),
		Providers: NewRegistry(),
		Kinds:     NewRegistry(),
	}
}

func (r *FileResult) Name() string {
	return filepath.Base(r.Path)
}

// Usable reports whether the file produced anything worth submitting.
func (r *FileResult) Usable() bool {
	return r.Receivers.Len() > 0 || r.Providers.Len() > 0 || r.Kinds.Len() > 0 || len(r.Measures) > 0
}

func (r *FileResult) Outcome() FileOutcome {
	switch {
	case r.Skipped:
		return OutcomeSkipped
	case !r.Usable():
		return OutcomeFailed
	case r.Failed:
		return OutcomeDegraded
	default:
		return OutcomeValid
	}
}

func (r *FileResult) Registry(kind internal.EntityKind) *Registry {
	switch kind {
	case internal.EntityReceiver:
		return r.Receivers
	case internal.EntityProvider:
		return r.Providers
	case internal.EntitySupportKind:
		return r.Kinds
	default:
		return nil
	}
}
