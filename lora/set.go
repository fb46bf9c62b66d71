// set.go - Set: benannte Sammlung angehefteter Adapter.
package lora

import (
	"sort"

	"github.com/hybridtrain/core/errs"
)

// Set is the collection of adapters attached to a model, keyed by name
// (e.g. "layer0.out-proj").
type Set struct {
	adapters map[string]*Adapter
}

// NewSet returns an empty adapter set.
func NewSet() *Set {
	return &Set{adapters: make(map[string]*Adapter)}
}

// Add registers an adapter under its own Name.
func (s *Set) Add(ad *Adapter) {
	s.adapters[ad.Name] = ad
}

// Get looks up an adapter by name.
func (s *Set) Get(name string) (*Adapter, bool) {
	ad, ok := s.adapters[name]
	return ad, ok
}

// MustGet is like Get but returns MissingActivation when absent, for call
// sites where the adapter is known to be required.
func (s *Set) MustGet(name string) (*Adapter, error) {
	ad, ok := s.adapters[name]
	if !ok {
		return nil, errs.New(errs.MissingActivation, "no lora adapter attached at "+name)
	}
	return ad, nil
}

// Names returns the attached adapter names in ascending order, matching
// the checkpoint persistence order of spec.md §6.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.adapters))
	for name := range s.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Release frees every adapter's parameters.
func (s *Set) Release() {
	for _, ad := range s.adapters {
		ad.Release()
	}
}
