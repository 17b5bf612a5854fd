// Package coordinator implements the MPIC decision engine: validate a
// request, build cohorts, dispatch and evaluate attempts, and assemble the
// final aggregate response.
package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/cablabs/mpic-coordinator/internal/cohort"
	"github.com/cablabs/mpic-coordinator/internal/dispatch"
	"github.com/cablabs/mpic-coordinator/internal/logging"
	"github.com/cablabs/mpic-coordinator/internal/metrics"
	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
	"github.com/cablabs/mpic-coordinator/internal/perspective"
	"github.com/cablabs/mpic-coordinator/internal/quorum"
)

// Config holds the fixed, immutable-after-construction settings a Coordinator
// needs: the perspective catalogue, its diversity policy, the default cohort
// size, an optional global attempt cap, and the cohort-shuffle secret.
type Config struct {
	KnownPerspectives        []string
	DefaultPerspectiveCount  int
	EnforceDistinctRIR       bool
	GlobalMaxAttempts        *int
	HashSecret               []byte

	// Logger, if set, receives per-attempt retry logging scoped with
	// WithAttempt and is handed down to the per-attempt Dispatcher so
	// perspective call failures are logged too. Left nil in most tests.
	Logger *logging.Logger
}

// Coordinator drives one coordinate_mpic invocation at a time. It holds no
// mutable state between calls; every field set at construction is read-only
// for the coordinator's lifetime, so a single Coordinator value may serve
// concurrent requests.
type Coordinator struct {
	call     dispatch.RemoteCaller
	registry *perspective.Registry
	builder  *cohort.Builder
	cfg      Config
	metrics  *metrics.Set
	logger   *logging.Logger
}

// New constructs a Coordinator. call is invoked once per perspective per
// check type per attempt; it is the coordinator's only collaborator for
// reaching a remote perspective. m may be nil to disable metrics recording.
func New(call dispatch.RemoteCaller, cfg Config, m *metrics.Set) (*Coordinator, error) {
	registry, err := perspective.NewRegistry(cfg.KnownPerspectives)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinator configuration: %w", err)
	}
	if cfg.DefaultPerspectiveCount < 2 {
		return nil, fmt.Errorf("default_perspective_count must be at least 2, got %d", cfg.DefaultPerspectiveCount)
	}
	builder := cohort.NewBuilder(registry, cfg.EnforceDistinctRIR, cfg.HashSecret)
	return &Coordinator{call: call, registry: registry, builder: builder, cfg: cfg, metrics: m, logger: cfg.Logger}, nil
}

// dispatcher builds a per-attempt Dispatcher wired to this coordinator's
// metrics and logger.
func (c *Coordinator) dispatcher() *dispatch.Dispatcher {
	d := dispatch.New(c.call, c.metrics)
	d.Logger = c.logger
	return d
}

// Result is the outcome of one coordinate_mpic call: either a validation
// failure (StatusCode 400) or a fully assembled MpicResponse (StatusCode
// 200, even when the corroboration itself failed).
type Result struct {
	StatusCode        int
	ValidationIssues  []string
	Response          *mpictypes.MpicResponse
}

// Coordinate runs the full request lifecycle: validate, compute effective
// orchestration parameters, build cohorts, cycle attempts, assemble the
// response.
func (c *Coordinator) Coordinate(ctx context.Context, req mpictypes.MpicRequest) Result {
	if errs := c.validate(req); len(errs) > 0 {
		return Result{StatusCode: 400, ValidationIssues: errs.IssueKeys()}
	}

	effective, issueKey := c.effectiveParameters(req)
	if issueKey != "" {
		return Result{StatusCode: 400, ValidationIssues: []string{issueKey}}
	}

	cohorts, err := c.cohortsFor(req, effective.PerspectiveCount)
	if err != nil {
		return Result{StatusCode: 400, ValidationIssues: []string{"invalid_perspective_count"}}
	}

	switch req.CheckType {
	case mpictypes.CheckTypeCAA:
		attempt, responses := c.runAttempts(ctx, cohorts, effective, mpictypes.CheckTypeCAA, buildCheckRequest(req, mpictypes.CheckTypeCAA))
		effective.AttemptCount = attempt
		isValid := quorum.Evaluate(responses, effective.QuorumCount)
		c.recordOutcome(mpictypes.CheckTypeCAA, isValid)
		return Result{StatusCode: 200, Response: &mpictypes.MpicResponse{
			CheckType:                 req.CheckType,
			DomainOrIPTarget:          req.DomainOrIPTarget,
			IsValid:                   isValid,
			Perspectives:              sortResponses(responses),
			ActualOrchestrationParams: effective,
		}}

	case mpictypes.CheckTypeDCV:
		attempt, responses := c.runAttempts(ctx, cohorts, effective, mpictypes.CheckTypeDCV, buildCheckRequest(req, mpictypes.CheckTypeDCV))
		effective.AttemptCount = attempt
		isValid := quorum.Evaluate(responses, effective.QuorumCount)
		c.recordOutcome(mpictypes.CheckTypeDCV, isValid)
		return Result{StatusCode: 200, Response: &mpictypes.MpicResponse{
			CheckType:                 req.CheckType,
			DomainOrIPTarget:          req.DomainOrIPTarget,
			IsValid:                   isValid,
			Perspectives:              sortResponses(responses),
			ActualOrchestrationParams: effective,
		}}

	default: // CheckTypeDCVWithCAA
		attempt, caaResponses, dcvResponses := c.runCombinedAttempts(ctx, cohorts, effective, req)
		effective.AttemptCount = attempt
		isValidCAA := quorum.Evaluate(caaResponses, effective.QuorumCount)
		isValidDCV := quorum.Evaluate(dcvResponses, effective.QuorumCount)
		isValid := isValidCAA && isValidDCV
		c.recordOutcome(mpictypes.CheckTypeDCVWithCAA, isValid)
		return Result{StatusCode: 200, Response: &mpictypes.MpicResponse{
			CheckType:                 req.CheckType,
			DomainOrIPTarget:          req.DomainOrIPTarget,
			IsValid:                   isValid,
			IsValidCAA:                &isValidCAA,
			IsValidDCV:                &isValidDCV,
			PerspectivesCAA:           sortResponses(caaResponses),
			PerspectivesDCV:           sortResponses(dcvResponses),
			ActualOrchestrationParams: effective,
		}}
	}
}

func (c *Coordinator) recordOutcome(checkType mpictypes.CheckType, isValid bool) {
	if c.metrics == nil {
		return
	}
	result := "fail"
	if isValid {
		result = "pass"
	}
	c.metrics.QuorumOutcomesTotal.WithLabelValues(string(checkType), result).Inc()
}

// cohortsFor returns the attempt cohorts to cycle through: the diagnostic
// override from orchestration_parameters.perspectives when present, else the
// builder's normal output.
func (c *Coordinator) cohortsFor(req mpictypes.MpicRequest, perspectiveCount int) ([]cohort.Cohort, error) {
	if req.OrchestrationParameters != nil && len(req.OrchestrationParameters.Perspectives) > 0 {
		var single cohort.Cohort
		for _, wire := range req.OrchestrationParameters.Perspectives {
			p, ok := c.registry.Lookup(wire)
			if !ok {
				return nil, fmt.Errorf("unknown perspective %q", wire)
			}
			single = append(single, p)
		}
		return []cohort.Cohort{single}, nil
	}
	return c.builder.Build(req.DomainOrIPTarget, perspectiveCount)
}

// runAttempts cycles through cohorts, attempting up to effective.AttemptCount
// (already clamped) times, stopping as soon as one attempt reaches quorum.
func (c *Coordinator) runAttempts(ctx context.Context, cohorts []cohort.Cohort, effective mpictypes.EffectiveOrchestrationParameters, checkType mpictypes.CheckType, checkReq mpictypes.CheckRequest) (attemptNumber int, responses []mpictypes.CheckResponse) {
	d := c.dispatcher()
	maxAttempts := effective.AttemptCount
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		current := cohorts[(attempt-1)%len(cohorts)]
		if c.metrics != nil {
			c.metrics.AttemptsTotal.WithLabelValues(string(checkType)).Inc()
		}
		responses = d.Dispatch(ctx, current, checkType, checkReq)
		attemptNumber = attempt
		if quorum.Evaluate(responses, effective.QuorumCount) {
			return attemptNumber, responses
		}
		if c.logger != nil && attempt < maxAttempts {
			c.logger.WithAttempt(attempt).Warn("quorum not reached, retrying with next cohort", "check_type", string(checkType))
		}
	}
	return attemptNumber, responses
}

// runCombinedAttempts is runAttempts' counterpart for dcv_with_caa, where
// each attempt dispatches both a CAA and a DCV call per perspective and
// succeeds only when both quorums are met.
func (c *Coordinator) runCombinedAttempts(ctx context.Context, cohorts []cohort.Cohort, effective mpictypes.EffectiveOrchestrationParameters, req mpictypes.MpicRequest) (attemptNumber int, caaResponses, dcvResponses []mpictypes.CheckResponse) {
	d := c.dispatcher()
	caaReq := buildCheckRequest(req, mpictypes.CheckTypeCAA)
	dcvReq := buildCheckRequest(req, mpictypes.CheckTypeDCV)
	maxAttempts := effective.AttemptCount
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		current := cohorts[(attempt-1)%len(cohorts)]
		if c.metrics != nil {
			c.metrics.AttemptsTotal.WithLabelValues(string(mpictypes.CheckTypeDCVWithCAA)).Inc()
		}
		caaResponses = d.Dispatch(ctx, current, mpictypes.CheckTypeCAA, caaReq)
		dcvResponses = d.Dispatch(ctx, current, mpictypes.CheckTypeDCV, dcvReq)
		attemptNumber = attempt
		if quorum.Evaluate(caaResponses, effective.QuorumCount) && quorum.Evaluate(dcvResponses, effective.QuorumCount) {
			return attemptNumber, caaResponses, dcvResponses
		}
		if c.logger != nil && attempt < maxAttempts {
			c.logger.WithAttempt(attempt).Warn("quorum not reached, retrying with next cohort", "check_type", string(mpictypes.CheckTypeDCVWithCAA))
		}
	}
	return attemptNumber, caaResponses, dcvResponses
}

func buildCheckRequest(req mpictypes.MpicRequest, checkType mpictypes.CheckType) mpictypes.CheckRequest {
	out := mpictypes.CheckRequest{
		CheckType:        checkType,
		DomainOrIPTarget: req.DomainOrIPTarget,
	}
	if checkType == mpictypes.CheckTypeCAA {
		out.CaaParams = req.CaaParams
	} else {
		out.DcvParams = req.DcvParams
	}
	return out
}

func sortResponses(responses []mpictypes.CheckResponse) []mpictypes.CheckResponse {
	out := make([]mpictypes.CheckResponse, len(responses))
	copy(out, responses)
	sort.Slice(out, func(i, j int) bool { return out[i].PerspectiveCode < out[j].PerspectiveCode })
	return out
}
