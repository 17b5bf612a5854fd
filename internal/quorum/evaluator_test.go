package quorum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
)

func TestDefaultQuorumCount(t *testing.T) {
	tests := []struct {
		perspectiveCount int
		wantCount        int
		wantOK           bool
	}{
		{perspectiveCount: 4, wantCount: 3, wantOK: true},
		{perspectiveCount: 5, wantCount: 4, wantOK: true},
		{perspectiveCount: 6, wantCount: 4, wantOK: true},
		{perspectiveCount: 7, wantCount: 5, wantOK: true},
		{perspectiveCount: 8, wantCount: 5, wantOK: true},
		{perspectiveCount: 3, wantCount: 0, wantOK: false},
		{perspectiveCount: 9, wantCount: 0, wantOK: false},
	}

	for _, tt := range tests {
		count, ok := DefaultQuorumCount(tt.perspectiveCount)
		require.Equal(t, tt.wantOK, ok, "perspectiveCount=%d", tt.perspectiveCount)
		if tt.wantOK {
			require.Equal(t, tt.wantCount, count, "perspectiveCount=%d", tt.perspectiveCount)
		}
	}
}

func responsesWithPassCount(total, passing int) []mpictypes.CheckResponse {
	responses := make([]mpictypes.CheckResponse, total)
	for i := range responses {
		responses[i] = mpictypes.CheckResponse{CheckPassed: i < passing}
	}
	return responses
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		passing     int
		quorumCount int
		want        bool
	}{
		{name: "exactly meets quorum", total: 6, passing: 4, quorumCount: 4, want: true},
		{name: "exceeds quorum", total: 6, passing: 6, quorumCount: 4, want: true},
		{name: "falls short of quorum", total: 6, passing: 3, quorumCount: 4, want: false},
		{name: "zero responses never meets positive quorum", total: 0, passing: 0, quorumCount: 1, want: false},
		{name: "quorum of zero is trivially met", total: 0, passing: 0, quorumCount: 0, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(responsesWithPassCount(tt.total, tt.passing), tt.quorumCount)
			require.Equal(t, tt.want, got)
		})
	}
}
