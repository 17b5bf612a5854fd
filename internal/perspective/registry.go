// Package perspective holds the immutable catalogue of known MPIC observation
// points and the RIR each belongs to.
package perspective

import (
	"fmt"
	"sort"
	"strings"
)

// RIR is a Regional Internet Registry tag used as the diversity dimension for
// cohort construction.
type RIR string

const (
	RIRARIN    RIR = "arin"
	RIRRIPE    RIR = "ripe"
	RIRAPNIC   RIR = "apnic"
	RIRLACNIC  RIR = "lacnic"
	RIRAfrinic RIR = "afrinic"
)

var knownRIRs = map[RIR]bool{
	RIRARIN: true, RIRRIPE: true, RIRAPNIC: true, RIRLACNIC: true, RIRAfrinic: true,
}

// Perspective identifies one remote observation point: an RIR tag plus an
// opaque region code. Its wire form is "<rir>.<code>".
type Perspective struct {
	RIR  RIR
	Code string
}

// Wire renders the perspective in its "<rir>.<code>" wire form.
func (p Perspective) Wire() string {
	return string(p.RIR) + "." + p.Code
}

// Parse decodes a "<rir>.<code>" wire string into a Perspective. It does not
// check membership in a Registry; use Registry.Lookup for that.
func Parse(wire string) (Perspective, error) {
	idx := strings.IndexByte(wire, '.')
	if idx <= 0 || idx == len(wire)-1 {
		return Perspective{}, fmt.Errorf("malformed perspective code %q", wire)
	}
	rir := RIR(wire[:idx])
	if !knownRIRs[rir] {
		return Perspective{}, fmt.Errorf("unknown RIR %q in perspective code %q", rir, wire)
	}
	return Perspective{RIR: rir, Code: wire[idx+1:]}, nil
}

// Registry is the immutable set of perspectives known to a coordinator. It is
// built once at construction and never mutated, so it is safe for concurrent
// reads across coordinate_mpic invocations.
type Registry struct {
	all     []Perspective
	byRIR   map[RIR][]Perspective
	byWire  map[string]Perspective
}

// NewRegistry parses a list of "<rir>.<code>" wire strings into a Registry.
// Construction fails fast on any malformed or unrecognized entry so that a
// misconfigured coordinator never starts.
func NewRegistry(wireCodes []string) (*Registry, error) {
	if len(wireCodes) == 0 {
		return nil, fmt.Errorf("perspective registry requires at least one known perspective")
	}
	reg := &Registry{
		byRIR:  make(map[RIR][]Perspective),
		byWire: make(map[string]Perspective, len(wireCodes)),
	}
	for _, wire := range wireCodes {
		p, err := Parse(wire)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.byWire[p.Wire()]; dup {
			return nil, fmt.Errorf("duplicate perspective %q in known_perspectives", p.Wire())
		}
		reg.all = append(reg.all, p)
		reg.byRIR[p.RIR] = append(reg.byRIR[p.RIR], p)
		reg.byWire[p.Wire()] = p
	}
	sort.Slice(reg.all, func(i, j int) bool { return reg.all[i].Wire() < reg.all[j].Wire() })
	return reg, nil
}

// All returns every known perspective, sorted by wire form for deterministic
// iteration order in callers that don't otherwise reorder it.
func (r *Registry) All() []Perspective {
	out := make([]Perspective, len(r.all))
	copy(out, r.all)
	return out
}

// ByRIR returns the perspectives registered under rir, grouped in insertion
// order.
func (r *Registry) ByRIR(rir RIR) []Perspective {
	group := r.byRIR[rir]
	out := make([]Perspective, len(group))
	copy(out, group)
	return out
}

// RIRs returns the distinct RIRs present in the registry, sorted.
func (r *Registry) RIRs() []RIR {
	rirs := make([]RIR, 0, len(r.byRIR))
	for rir := range r.byRIR {
		rirs = append(rirs, rir)
	}
	sort.Slice(rirs, func(i, j int) bool { return rirs[i] < rirs[j] })
	return rirs
}

// Len reports the number of known perspectives.
func (r *Registry) Len() int {
	return len(r.all)
}

// Lookup returns the registered perspective whose wire code is wire, and
// reports whether one exists in this registry.
func (r *Registry) Lookup(wire string) (Perspective, bool) {
	p, ok := r.byWire[wire]
	return p, ok
}
