package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Binding is one top-level variable known to the compiler. Index is the
// slot the compiled code uses in the persistent environment; Meta is
// whatever else the compiler wants back on the next snippet, kept opaque.
type Binding struct {
	Name  string          `json:"name"`
	Index int             `json:"index"`
	Meta  json.RawMessage `json:"meta,omitempty"`
}

// VarContext is an immutable, ordered snapshot of the variables in scope.
// The zero value is the empty context at version 0. A new snapshot comes
// only from Merge (which the builder calls with the compiler's output), so a
// failed snippet can never leave a half-updated context behind.
type VarContext struct {
	version  int
	bindings []Binding
	index    map[string]int
}

// Version counts how many successful merges produced this snapshot.
func (v VarContext) Version() int { return v.version }

// Len returns the number of bindings.
func (v VarContext) Len() int { return len(v.bindings) }

// Names returns the variable names in definition order.
func (v VarContext) Names() []string {
	names := make([]string, len(v.bindings))
	for i, b := range v.bindings {
		names[i] = b.Name
	}
	return names
}

// Bindings returns a copy of the bindings in definition order.
func (v VarContext) Bindings() []Binding {
	out := make([]Binding, len(v.bindings))
	for i, b := range v.bindings {
		out[i] = b.clone()
	}
	return out
}

// Lookup returns the binding for name.
func (v VarContext) Lookup(name string) (Binding, bool) {
	i, ok := v.index[name]
	if !ok {
		return Binding{}, false
	}
	return v.bindings[i].clone(), true
}

// Merge returns a new snapshot with updates applied. Existing names are
// overwritten in place, new names are appended in the order given. The
// receiver is not modified.
func (v VarContext) Merge(updates []Binding) (VarContext, error) {
	next := VarContext{
		version:  v.version + 1,
		bindings: make([]Binding, len(v.bindings), len(v.bindings)+len(updates)),
		index:    make(map[string]int, len(v.bindings)+len(updates)),
	}
	for i, b := range v.bindings {
		next.bindings[i] = b
		next.index[b.Name] = i
	}
	for _, u := range updates {
		if u.Name == "" {
			return v, fmt.Errorf("binding at index %d has no name", u.Index)
		}
		u = u.clone()
		if i, ok := next.index[u.Name]; ok {
			next.bindings[i] = u
			continue
		}
		next.index[u.Name] = len(next.bindings)
		next.bindings = append(next.bindings, u)
	}
	return next, nil
}

// Equal reports whether both snapshots hold the same bindings in the same
// order at the same version.
func (v VarContext) Equal(o VarContext) bool {
	if v.version != o.version || len(v.bindings) != len(o.bindings) {
		return false
	}
	for i := range v.bindings {
		a, b := v.bindings[i], o.bindings[i]
		if a.Name != b.Name || a.Index != b.Index || !bytes.Equal(a.Meta, b.Meta) {
			return false
		}
	}
	return true
}

func (v VarContext) String() string {
	return fmt.Sprintf("vars@%d%v", v.version, v.Names())
}

type varContextJSON struct {
	Version  int       `json:"version"`
	Bindings []Binding `json:"bindings"`
}

// MarshalJSON encodes the snapshot with bindings in order.
func (v VarContext) MarshalJSON() ([]byte, error) {
	b := v.bindings
	if b == nil {
		b = []Binding{}
	}
	return json.Marshal(varContextJSON{Version: v.version, Bindings: b})
}

// UnmarshalJSON decodes a snapshot produced by MarshalJSON.
func (v *VarContext) UnmarshalJSON(data []byte) error {
	var raw varContextJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := VarContext{}.Merge(raw.Bindings)
	if err != nil {
		return err
	}
	decoded.version = raw.Version
	*v = decoded
	return nil
}

func (b Binding) clone() Binding {
	if b.Meta != nil {
		b.Meta = append(json.RawMessage(nil), b.Meta...)
	}
	return b
}
