// Package dispatch fans a single attempt's check requests out to every
// perspective in a cohort in parallel and collects their responses,
// converting transport failures into synthetic failing CheckResponses so the
// quorum evaluator never has to special-case a missing answer.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/cablabs/mpic-coordinator/internal/cohort"
	"github.com/cablabs/mpic-coordinator/internal/logging"
	"github.com/cablabs/mpic-coordinator/internal/metrics"
	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
)

// RemoteCaller is the signature the coordinator is parameterized by: issue
// one check_type call against one perspective and return its serialized
// response, or an error if the call itself failed (timeout, transport error,
// non-2xx status). RemoteCaller must not panic; a panic escaping it is not
// recovered by the dispatching goroutine and terminates the process.
type RemoteCaller func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, request mpictypes.CheckRequest) (mpictypes.CheckResponse, error)

// NowNanos returns the current time in nanoseconds since the epoch. It is a
// variable, not a direct time.Now call, so tests can pin timestamps.
var NowNanos func() int64

// Dispatcher issues one attempt's worth of remote perspective calls.
type Dispatcher struct {
	call    RemoteCaller
	metrics *metrics.Set

	// Logger, if set, receives a warning scoped to the failing perspective
	// for every call that returns an error. Left nil in most tests.
	Logger *logging.Logger
}

// New builds a Dispatcher around call. m may be nil, in which case dispatch
// latency and per-perspective failures are not recorded.
func New(call RemoteCaller, m *metrics.Set) *Dispatcher {
	return &Dispatcher{call: call, metrics: m}
}

// Dispatch invokes call once per perspective in c, in parallel, for the given
// checkType and request, and returns one CheckResponse per perspective. A
// perspective whose call errors gets a synthetic failing response carrying a
// coordinator_communication_error entry instead of being omitted.
func (d *Dispatcher) Dispatch(ctx context.Context, c cohort.Cohort, checkType mpictypes.CheckType, request mpictypes.CheckRequest) []mpictypes.CheckResponse {
	start := time.Now()
	responses := make([]mpictypes.CheckResponse, len(c))

	var wg sync.WaitGroup
	for i, p := range c {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := d.call(ctx, p.Wire(), checkType, request)
			if err != nil {
				if d.metrics != nil {
					d.metrics.PerspectiveFailures.WithLabelValues(p.Wire()).Inc()
				}
				if d.Logger != nil {
					d.Logger.WithPerspective(p.Wire()).Warn("perspective call failed", "check_type", string(checkType), "error", err.Error())
				}
				responses[i] = mpictypes.CheckResponse{
					PerspectiveCode: p.Wire(),
					CheckPassed:     false,
					TimestampNS:     nowNanos(),
					Errors: []mpictypes.ErrorMessage{{
						ErrorType:    mpictypes.ErrCoordinatorCommunicationError,
						ErrorMessage: err.Error(),
					}},
				}
				return
			}
			resp.PerspectiveCode = p.Wire()
			responses[i] = resp
		}()
	}
	wg.Wait()

	if d.metrics != nil {
		d.metrics.DispatchLatency.WithLabelValues(string(checkType)).Observe(time.Since(start).Seconds())
	}

	return responses
}

func nowNanos() int64 {
	if NowNanos != nil {
		return NowNanos()
	}
	return realNowNanos()
}
