// Package cohort partitions known perspectives into disjoint cohorts under an
// optional RIR-diversity constraint, using a deterministic seeded shuffle so
// that repeated attempts against the same target produce a stable, but
// unpredictable without the secret, cohort sequence.
package cohort

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"

	"github.com/cablabs/mpic-coordinator/internal/perspective"
)

// Builder constructs cohort sequences from a Registry.
type Builder struct {
	registry    *perspective.Registry
	enforceRIR  bool
	hashSecret  []byte
}

// NewBuilder creates a Builder bound to registry. hashSecret seeds the
// deterministic shuffle (see seedFor); it should be a long-lived, unguessable
// value configured alongside the registry.
func NewBuilder(registry *perspective.Registry, enforceDistinctRIR bool, hashSecret []byte) *Builder {
	return &Builder{registry: registry, enforceRIR: enforceDistinctRIR, hashSecret: hashSecret}
}

// Cohort is an ordered, duplicate-free set of perspectives selected for one
// attempt.
type Cohort []perspective.Perspective

// Sorted returns a copy of the cohort sorted by wire form, used wherever a
// reproducible ordering is required (response assembly, test assertions).
func (c Cohort) Sorted() Cohort {
	out := make(Cohort, len(c))
	copy(out, c)
	sort.Slice(out, func(i, j int) bool { return out[i].Wire() < out[j].Wire() })
	return out
}

// seedFor derives a 64-bit PRNG seed from HMAC-SHA256(hashSecret, target).
// Using a keyed PRF (rather than a bare hash of the target) means the cohort
// ordering cannot be predicted from the target alone without the secret.
func (b *Builder) seedFor(target string) int64 {
	mac := hmac.New(sha256.New, b.hashSecret)
	mac.Write([]byte(target))
	digest := mac.Sum(nil)
	return int64(binary.BigEndian.Uint64(digest[:8]))
}

// Build returns an ordered list of disjoint cohorts of size cohortSize,
// covering as many known perspectives as evenly divide into cohortSize.
// Leftover perspectives that cannot fill a final full cohort are dropped for
// this request. Build is a pure function of (target, cohortSize) and the
// builder's configuration: repeated calls with the same arguments return
// cohorts in the same order.
func (b *Builder) Build(target string, cohortSize int) ([]Cohort, error) {
	total := b.registry.Len()
	if cohortSize <= 0 {
		return nil, fmt.Errorf("cohort size must be positive, got %d", cohortSize)
	}
	if cohortSize > total {
		return nil, fmt.Errorf("requested cohort size %d exceeds total known perspectives %d", cohortSize, total)
	}

	rng := rand.New(rand.NewSource(b.seedFor(target)))

	rirs := b.registry.RIRs()
	groups := make(map[perspective.RIR][]perspective.Perspective, len(rirs))
	for _, rir := range rirs {
		members := b.registry.ByRIR(rir)
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		groups[rir] = members
	}
	rng.Shuffle(len(rirs), func(i, j int) { rirs[i], rirs[j] = rirs[j], rirs[i] })

	if b.enforceRIR && cohortSize <= len(rirs) {
		return buildDistinctRIRCohorts(rirs, groups, cohortSize), nil
	}
	return buildPackedCohorts(rirs, groups, total, cohortSize), nil
}

// buildDistinctRIRCohorts rotates through the shuffled RIR order, taking one
// unused perspective from cohortSize distinct RIRs per cohort, so that every
// cohort contains at most one perspective per RIR.
func buildDistinctRIRCohorts(rirs []perspective.RIR, groups map[perspective.RIR][]perspective.Perspective, cohortSize int) []Cohort {
	cursor := make(map[perspective.RIR]int, len(rirs))
	var cohorts []Cohort
	offset := 0
	for {
		cohort := make(Cohort, 0, cohortSize)
		usedRIRs := make(map[perspective.RIR]bool, cohortSize)
		for i := 0; i < len(rirs) && len(cohort) < cohortSize; i++ {
			rir := rirs[(offset+i)%len(rirs)]
			if usedRIRs[rir] {
				continue
			}
			members := groups[rir]
			idx := cursor[rir]
			if idx >= len(members) {
				continue
			}
			cohort = append(cohort, members[idx])
			cursor[rir] = idx + 1
			usedRIRs[rir] = true
		}
		if len(cohort) < cohortSize {
			break
		}
		cohorts = append(cohorts, cohort)
		offset++
	}
	return cohorts
}

// buildPackedCohorts falls back to greedily packing cohorts without the
// one-per-RIR constraint, still preferring to spread distinct RIRs across a
// cohort before repeating one, by interleaving the (already shuffled) groups
// round-robin.
func buildPackedCohorts(rirs []perspective.RIR, groups map[perspective.RIR][]perspective.Perspective, total, cohortSize int) []Cohort {
	interleaved := make([]perspective.Perspective, 0, total)
	cursor := make(map[perspective.RIR]int, len(rirs))
	remaining := total
	for remaining > 0 {
		progressed := false
		for _, rir := range rirs {
			idx := cursor[rir]
			members := groups[rir]
			if idx >= len(members) {
				continue
			}
			interleaved = append(interleaved, members[idx])
			cursor[rir] = idx + 1
			remaining--
			progressed = true
		}
		if !progressed {
			break
		}
	}

	var cohorts []Cohort
	for start := 0; start+cohortSize <= len(interleaved); start += cohortSize {
		cohort := make(Cohort, cohortSize)
		copy(cohort, interleaved[start:start+cohortSize])
		cohorts = append(cohorts, cohort)
	}
	return cohorts
}
