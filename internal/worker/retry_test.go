package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		want    []time.Duration
	}{
		{
			name:    "fixed",
			backoff: Backoff{Strategy: BackoffFixed, Base: time.Minute},
			want:    []time.Duration{time.Minute, time.Minute, time.Minute},
		},
		{
			name:    "empty strategy is fixed",
			backoff: Backoff{Base: 10 * time.Second, Multiplier: 2},
			want:    []time.Duration{10 * time.Second, 10 * time.Second},
		},
		{
			name:    "exponential capped",
			backoff: Backoff{Strategy: BackoffExponential, Base: time.Second, Multiplier: 2, Max: 5 * time.Second},
			want:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name:    "exponential without cap",
			backoff: Backoff{Strategy: BackoffExponential, Base: time.Minute, Multiplier: 3},
			want:    []time.Duration{time.Minute, 3 * time.Minute, 9 * time.Minute, 27 * time.Minute},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				assert.Equal(t, want, tt.backoff.Delay(i+1), "attempt %d", i+1)
			}
		})
	}
}
