package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cablabs/mpic-coordinator/internal/coordinator"
	"github.com/cablabs/mpic-coordinator/internal/logging"
	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LoggerConfig{Level: logging.LogLevelError, Format: logging.LogFormatJSON})
}

func testCoordinator(t *testing.T, call func(context.Context, string, mpictypes.CheckType, mpictypes.CheckRequest) (mpictypes.CheckResponse, error)) *coordinator.Coordinator {
	t.Helper()
	c, err := coordinator.New(call, coordinator.Config{
		KnownPerspectives:       []string{"arin.us-east-1", "ripe.eu-west-2", "apnic.ap-northeast-1"},
		DefaultPerspectiveCount: 3,
		EnforceDistinctRIR:      true,
		HashSecret:              []byte("test_secret"),
	}, nil)
	require.NoError(t, err)
	return c
}

func TestHandleMpic_ReturnsOKForValidRequest(t *testing.T) {
	coord := testCoordinator(t, func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	})
	srv := New(coord, testLogger(), nil)

	body, _ := json.Marshal(mpictypes.MpicRequest{
		CheckType:        mpictypes.CheckTypeCAA,
		DomainOrIPTarget: "example.com",
		OrchestrationParameters: &mpictypes.RequestOrchestrationParameters{
			QuorumCount: intPtr(2),
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/mpic", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp mpictypes.MpicResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.IsValid)
}

func TestHandleMpic_ReturnsBadRequestOnValidationFailure(t *testing.T) {
	coord := testCoordinator(t, func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	})
	srv := New(coord, testLogger(), nil)

	body, _ := json.Marshal(mpictypes.MpicRequest{CheckType: mpictypes.CheckTypeCAA})
	req := httptest.NewRequest(http.MethodPost, "/mpic", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body2 validationFailureBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body2))
	require.Contains(t, body2.ValidationIssues, "domain_or_ip_target_required")
}

func TestHandleMpic_ReturnsBadRequestOnMalformedJSON(t *testing.T) {
	coord := testCoordinator(t, func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	})
	srv := New(coord, testLogger(), nil)

	req := httptest.NewRequest(http.MethodPost, "/mpic", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleMpic_RejectsNonPostMethod(t *testing.T) {
	coord := testCoordinator(t, func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	})
	srv := New(coord, testLogger(), nil)

	req := httptest.NewRequest(http.MethodGet, "/mpic", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	coord := testCoordinator(t, func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	})
	srv := New(coord, testLogger(), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleMetrics_DelegatesToProvidedHandler(t *testing.T) {
	coord := testCoordinator(t, func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		return mpictypes.CheckResponse{CheckPassed: true}, nil
	})
	called := false
	custom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	srv := New(coord, testLogger(), custom)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, w.Code)
}

func intPtr(v int) *int { return &v }
