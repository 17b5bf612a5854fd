package coordinator

import (
	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
	"github.com/cablabs/mpic-coordinator/internal/quorum"
)

func quorumFloor(perspectiveCount int) (int, bool) {
	return quorum.DefaultQuorumCount(perspectiveCount)
}

// validate checks the request shape and bounds before any cohort is built or
// any remote call is made. It returns every problem found, not just the
// first, so a client can fix its request in one round trip.
func (c *Coordinator) validate(req mpictypes.MpicRequest) mpictypes.ValidationErrors {
	var errs mpictypes.ValidationErrors

	if req.DomainOrIPTarget == "" {
		errs = append(errs, mpictypes.ValidationError{IssueKey: "domain_or_ip_target_required"})
	}

	switch req.CheckType {
	case mpictypes.CheckTypeCAA:
	case mpictypes.CheckTypeDCV:
		if req.DcvParams == nil {
			errs = append(errs, mpictypes.ValidationError{IssueKey: "dcv_check_parameters_required"})
		}
	case mpictypes.CheckTypeDCVWithCAA:
		if req.DcvParams == nil {
			errs = append(errs, mpictypes.ValidationError{IssueKey: "dcv_check_parameters_required"})
		}
	default:
		errs = append(errs, mpictypes.ValidationError{IssueKey: "unknown_check_type", Detail: string(req.CheckType)})
	}

	if op := req.OrchestrationParameters; op != nil {
		if op.PerspectiveCount != nil {
			if *op.PerspectiveCount > c.registry.Len() {
				errs = append(errs, mpictypes.ValidationError{IssueKey: "invalid_perspective_count"})
			}
			if *op.PerspectiveCount < 2 {
				errs = append(errs, mpictypes.ValidationError{IssueKey: "invalid_perspective_count"})
			}
		}
		if op.QuorumCount != nil {
			pc := c.cfg.DefaultPerspectiveCount
			if op.PerspectiveCount != nil {
				pc = *op.PerspectiveCount
			}
			if *op.QuorumCount > pc || *op.QuorumCount < 1 {
				errs = append(errs, mpictypes.ValidationError{IssueKey: "invalid_quorum_count"})
			}
		}
		if op.MaxAttempts != nil && *op.MaxAttempts < 1 {
			errs = append(errs, mpictypes.ValidationError{IssueKey: "invalid_max_attempts"})
		}
		for _, wire := range op.Perspectives {
			if _, ok := c.registry.Lookup(wire); !ok {
				errs = append(errs, mpictypes.ValidationError{IssueKey: "unknown_perspective", Detail: wire})
			}
		}
	}

	return errs
}

// effectiveParameters folds request overrides, coordinator defaults, and the
// quorum floor table into a fully-populated EffectiveOrchestrationParameters.
// AttemptCount is initially set to the clamped attempt cap; callers overwrite
// it with the attempt actually reached once the attempt loop completes. A
// non-empty issueKey means the request must be rejected (this only happens
// when the quorum floor table has no entry and the client didn't supply an
// explicit quorum_count -- bounds violations are already caught by validate).
func (c *Coordinator) effectiveParameters(req mpictypes.MpicRequest) (mpictypes.EffectiveOrchestrationParameters, string) {
	perspectiveCount := c.cfg.DefaultPerspectiveCount
	var requestedQuorum *int
	maxAttempts := 1

	if op := req.OrchestrationParameters; op != nil {
		if op.PerspectiveCount != nil {
			perspectiveCount = *op.PerspectiveCount
		}
		requestedQuorum = op.QuorumCount
		if op.MaxAttempts != nil {
			maxAttempts = *op.MaxAttempts
		}
	}

	quorumCount := 0
	if requestedQuorum != nil {
		quorumCount = *requestedQuorum
	} else {
		floor, ok := quorumFloor(perspectiveCount)
		if !ok {
			return mpictypes.EffectiveOrchestrationParameters{}, "quorum_count_required"
		}
		quorumCount = floor
	}

	maxAttempts = clampInt(maxAttempts, 1, c.cfg.GlobalMaxAttempts)

	return mpictypes.EffectiveOrchestrationParameters{
		PerspectiveCount: perspectiveCount,
		QuorumCount:      quorumCount,
		AttemptCount:     maxAttempts,
	}, ""
}

func clampInt(value, min int, max *int) int {
	if value < min {
		value = min
	}
	if max != nil && value > *max {
		value = *max
	}
	return value
}
