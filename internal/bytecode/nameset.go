// SPDX-License-Identifier: MPL-2.0

package bytecode

import (
	"encoding/json"
	"maps"
	"slices"
)

// NameSet is a set of identifiers. The nil NameSet is a valid, empty,
// read-only set.
type NameSet map[string]struct{}

// NewNameSet returns a set holding names.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts name.
func (s NameSet) Add(name string) { s[name] = struct{}{} }

// Remove deletes name if present.
func (s NameSet) Remove(name string) { delete(s, name) }

// Has reports whether name is in the set.
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Len returns the number of names.
func (s NameSet) Len() int { return len(s) }

// Union adds every name of other to s.
func (s NameSet) Union(other NameSet) {
	for n := range other {
		s[n] = struct{}{}
	}
}

// Clone returns an independent copy. Cloning the nil set yields an empty, writable set.
func (s NameSet) Clone() NameSet {
	if s == nil {
		return make(NameSet)
	}
	return maps.Clone(s)
}

// Sorted returns the names in lexical order.
func (s NameSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

// Equal reports whether both sets hold the same names.
func (s NameSet) Equal(other NameSet) bool {
	if len(s) != len(other) {
		return false
	}
	for n := range s {
		if !other.Has(n) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array.
func (s NameSet) MarshalJSON() ([]byte, error) {
	names := s.Sorted()
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

// MarshalYAML encodes the set as a sorted sequence.
func (s NameSet) MarshalYAML() (any, error) {
	names := s.Sorted()
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// UnmarshalJSON decodes a set from an array of names.
func (s *NameSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewNameSet(names...)
	return nil
}
