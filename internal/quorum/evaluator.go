// Package quorum decides whether a cohort's check responses corroborate
// issuance for one attempt.
package quorum

import "github.com/cablabs/mpic-coordinator/internal/mpictypes"

// FloorTable maps a perspective count to the minimum quorum count the
// coordinator requires when the client does not specify one explicitly. It
// mirrors the reference implementation's test-verified values and is
// intentionally not extrapolated beyond what has been exercised.
var FloorTable = map[int]int{
	4: 3,
	5: 4,
	6: 4,
	7: 5,
	8: 5,
}

// DefaultQuorumCount looks up the floor for perspectiveCount. ok is false if
// perspectiveCount has no table entry, meaning the caller must require an
// explicit quorum_count from the request.
func DefaultQuorumCount(perspectiveCount int) (count int, ok bool) {
	count, ok = FloorTable[perspectiveCount]
	return
}

// Evaluate reports whether at least quorumCount of responses have
// CheckPassed set.
func Evaluate(responses []mpictypes.CheckResponse, quorumCount int) bool {
	passed := 0
	for _, r := range responses {
		if r.CheckPassed {
			passed++
		}
	}
	return passed >= quorumCount
}
