package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cablabs/mpic-coordinator/internal/cohort"
	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
)

func sixPerspectives() []string {
	return []string{
		"arin.us-east-1", "arin.us-west-1",
		"ripe.eu-west-2", "ripe.eu-central-2",
		"apnic.ap-northeast-1", "apnic.ap-south-2",
	}
}

func baseConfig() Config {
	return Config{
		KnownPerspectives:       sixPerspectives(),
		DefaultPerspectiveCount: 3,
		EnforceDistinctRIR:      true,
		HashSecret:              []byte("test_secret"),
	}
}

func intPtr(v int) *int { return &v }

func TestNew_RejectsInvalidPerspectiveCount(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultPerspectiveCount = 1
	_, err := New(func(context.Context, string, mpictypes.CheckType, mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{}, nil
	}, cfg, nil)
	require.Error(t, err)
}

func TestNew_RejectsEmptyPerspectiveList(t *testing.T) {
	cfg := baseConfig()
	cfg.KnownPerspectives = nil
	_, err := New(func(context.Context, string, mpictypes.CheckType, mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{}, nil
	}, cfg, nil)
	require.Error(t, err)
}

func TestCoordinate_RejectsMissingTarget(t *testing.T) {
	c, err := New(alwaysPassCaller(), baseConfig(), nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{CheckType: mpictypes.CheckTypeCAA})
	require.Equal(t, 400, result.StatusCode)
	require.Contains(t, result.ValidationIssues, "domain_or_ip_target_required")
}

func TestCoordinate_RejectsUnknownCheckType(t *testing.T) {
	c, err := New(alwaysPassCaller(), baseConfig(), nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        "bogus",
		DomainOrIPTarget: "example.com",
	})
	require.Equal(t, 400, result.StatusCode)
	require.Contains(t, result.ValidationIssues, "unknown_check_type")
}

func TestCoordinate_RejectsDCVWithoutParameters(t *testing.T) {
	c, err := New(alwaysPassCaller(), baseConfig(), nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeDCV,
		DomainOrIPTarget: "example.com",
	})
	require.Equal(t, 400, result.StatusCode)
	require.Contains(t, result.ValidationIssues, "dcv_check_parameters_required")
}

func TestCoordinate_RequiresExplicitQuorumCountWhenPerspectiveCountUnlisted(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultPerspectiveCount = 3
	c, err := New(alwaysPassCaller(), cfg, nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
	})
	require.Equal(t, 400, result.StatusCode)
	require.Contains(t, result.ValidationIssues, "quorum_count_required")
}

func TestCoordinate_UsesQuorumFloorTableForListedPerspectiveCount(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultPerspectiveCount = 6
	c, err := New(alwaysPassCaller(), cfg, nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
	})
	require.Equal(t, 200, result.StatusCode)
	require.True(t, result.Response.IsValid)
	require.Equal(t, 4, result.Response.ActualOrchestrationParams.QuorumCount)
}

func alwaysPassCaller() func(context.Context, string, mpictypes.CheckType, mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
	return func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	}
}

func TestCoordinate_CAAOnlySucceedsWithAllPerspectivesPassing(t *testing.T) {
	var calls int32
	caller := func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, mpictypes.CheckTypeCAA, checkType)
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	}
	c, err := New(caller, baseConfig(), nil)
	require.NoError(t, err)

	q := 3
	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
		OrchestrationParameters: &mpictypes.RequestOrchestrationParameters{
			QuorumCount: &q,
		},
	})

	require.Equal(t, 200, result.StatusCode)
	require.True(t, result.Response.IsValid)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, result.Response.Perspectives, 3)
}

func TestCoordinate_CombinedCheckDispatchesBothCAAAndDCVPerPerspective(t *testing.T) {
	var caaCalls, dcvCalls int32
	caller := func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		switch checkType {
		case mpictypes.CheckTypeCAA:
			atomic.AddInt32(&caaCalls, 1)
		case mpictypes.CheckTypeDCV:
			atomic.AddInt32(&dcvCalls, 1)
		}
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	}
	cfg := baseConfig()
	cfg.DefaultPerspectiveCount = 6
	c, err := New(caller, cfg, nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeDCVWithCAA,
		DomainOrIPTarget: "example.com",
		DcvParams: &mpictypes.DcvCheckParameters{
			ValidationDetails: mpictypes.DcvValidationDetails{ValidationMethod: mpictypes.DcvMethodDNSChange},
		},
	})

	require.Equal(t, 200, result.StatusCode)
	require.True(t, result.Response.IsValid)
	require.Equal(t, int32(6), atomic.LoadInt32(&caaCalls))
	require.Equal(t, int32(6), atomic.LoadInt32(&dcvCalls))
	require.NotNil(t, result.Response.IsValidCAA)
	require.NotNil(t, result.Response.IsValidDCV)
	require.True(t, *result.Response.IsValidCAA)
	require.True(t, *result.Response.IsValidDCV)
}

func TestCoordinate_RetriesUntilQuorumAcrossAttempts(t *testing.T) {
	var attemptsSeen sync.Map
	caller := func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		n, _ := attemptsSeen.LoadOrStore(perspectiveCode, new(int32))
		count := atomic.AddInt32(n.(*int32), 1)
		// Fail every perspective on the first call it sees, pass thereafter,
		// so the overall first attempt's cohort misses quorum and a later
		// attempt (different or repeated cohort) succeeds.
		return mpictypes.CheckResponse{CheckPassed: count > 1}, nil
	}
	cfg := baseConfig()
	q := 3
	maxAttempts := 4
	c, err := New(caller, cfg, nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
		OrchestrationParameters: &mpictypes.RequestOrchestrationParameters{
			QuorumCount: &q,
			MaxAttempts: &maxAttempts,
		},
	})

	require.Equal(t, 200, result.StatusCode)
	require.True(t, result.Response.IsValid)
	require.Greater(t, result.Response.ActualOrchestrationParams.AttemptCount, 1)
}

func TestCoordinate_FailsWhenMaxAttemptsExhaustedWithoutQuorum(t *testing.T) {
	caller := func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{CheckPassed: false}, nil
	}
	cfg := baseConfig()
	q := 3
	maxAttempts := 2
	c, err := New(caller, cfg, nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
		OrchestrationParameters: &mpictypes.RequestOrchestrationParameters{
			QuorumCount: &q,
			MaxAttempts: &maxAttempts,
		},
	})

	require.Equal(t, 200, result.StatusCode)
	require.False(t, result.Response.IsValid)
	require.Equal(t, 2, result.Response.ActualOrchestrationParams.AttemptCount)
}

func TestCoordinate_GlobalMaxAttemptsCapsRequestedMaxAttempts(t *testing.T) {
	var totalAttempts int32
	caller := func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{CheckPassed: false}, nil
	}
	cfg := baseConfig()
	cfg.GlobalMaxAttempts = intPtr(2)
	q := 3
	requested := 10
	c, err := New(func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		atomic.AddInt32(&totalAttempts, 1)
		return caller(ctx, perspectiveCode, checkType, req)
	}, cfg, nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
		OrchestrationParameters: &mpictypes.RequestOrchestrationParameters{
			QuorumCount: &q,
			MaxAttempts: &requested,
		},
	})

	require.Equal(t, 200, result.StatusCode)
	require.Equal(t, 2, result.Response.ActualOrchestrationParams.AttemptCount)
	// Two attempts of three perspectives each = six calls, never ten attempts' worth.
	require.Equal(t, int32(6), atomic.LoadInt32(&totalAttempts))
}

func TestCoordinate_CohortCyclesBackAfterExhaustingAllCohorts(t *testing.T) {
	var mu sync.Mutex
	var calls []string

	caller := func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		mu.Lock()
		calls = append(calls, perspectiveCode)
		mu.Unlock()
		return mpictypes.CheckResponse{CheckPassed: false}, nil
	}
	cfg := baseConfig()
	q := 3
	maxAttempts := 4
	c, err := New(caller, cfg, nil)
	require.NoError(t, err)

	// Six perspectives, cohort size 3, enforceRIR true => exactly two disjoint
	// cohorts. With four attempts, attempt 1 and attempt 3 must use the same
	// cohort (cycling), and so must attempt 2 and attempt 4.
	cohorts, err := c.builder.Build("example.com", 3)
	require.NoError(t, err)
	require.Len(t, cohorts, 2)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
		OrchestrationParameters: &mpictypes.RequestOrchestrationParameters{
			QuorumCount: &q,
			MaxAttempts: &maxAttempts,
		},
	})
	require.Equal(t, 200, result.StatusCode)
	require.Equal(t, 4, result.Response.ActualOrchestrationParams.AttemptCount)

	// Attempts run strictly one after another, so each consecutive group of
	// three recorded calls is one attempt's cohort.
	mu.Lock()
	require.Len(t, calls, 12)
	var cohortsByAttempt [][]string
	for i := 0; i < 4; i++ {
		attemptCodes := append([]string(nil), calls[i*3:(i+1)*3]...)
		sort.Strings(attemptCodes)
		cohortsByAttempt = append(cohortsByAttempt, attemptCodes)
	}
	mu.Unlock()

	require.Equal(t, wireCodes(cohorts[0]), cohortsByAttempt[0])
	require.Equal(t, wireCodes(cohorts[1]), cohortsByAttempt[1])
	require.Equal(t, cohortsByAttempt[0], cohortsByAttempt[2])
	require.Equal(t, cohortsByAttempt[1], cohortsByAttempt[3])
}

func wireCodes(c cohort.Cohort) []string {
	sorted := c.Sorted()
	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = p.Wire()
	}
	return out
}

func TestCoordinate_CommunicationErrorsAreSynthesizedIntoResponses(t *testing.T) {
	caller := func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{}, errors.New("dial tcp: connection refused")
	}
	cfg := baseConfig()
	q := 1
	c, err := New(caller, cfg, nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
		OrchestrationParameters: &mpictypes.RequestOrchestrationParameters{
			QuorumCount: &q,
		},
	})

	require.Equal(t, 200, result.StatusCode)
	require.False(t, result.Response.IsValid)
	for _, p := range result.Response.Perspectives {
		require.False(t, p.CheckPassed)
		require.Len(t, p.Errors, 1)
		require.Equal(t, mpictypes.ErrCoordinatorCommunicationError, p.Errors[0].ErrorType)
	}
}

func TestCoordinate_DiagnosticPerspectivesOverrideBypassesCohortBuilder(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	caller := func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		mu.Lock()
		seen = append(seen, perspectiveCode)
		mu.Unlock()
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	}
	cfg := baseConfig()
	c, err := New(caller, cfg, nil)
	require.NoError(t, err)

	q := 2
	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
		OrchestrationParameters: &mpictypes.RequestOrchestrationParameters{
			QuorumCount:  &q,
			Perspectives: []string{"arin.us-east-1", "ripe.eu-west-2"},
		},
	})

	require.Equal(t, 200, result.StatusCode)
	require.ElementsMatch(t, []string{"arin.us-east-1", "ripe.eu-west-2"}, seen)
	require.Len(t, result.Response.Perspectives, 2)
}

func TestCoordinate_RejectsUnknownDiagnosticPerspective(t *testing.T) {
	c, err := New(alwaysPassCaller(), baseConfig(), nil)
	require.NoError(t, err)

	result := c.Coordinate(context.Background(), mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
		OrchestrationParameters: &mpictypes.RequestOrchestrationParameters{
			Perspectives: []string{"bogus.region"},
		},
	})

	require.Equal(t, 400, result.StatusCode)
	require.Contains(t, result.ValidationIssues, "unknown_perspective")
}
