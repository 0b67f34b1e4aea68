package realtime

import (
	"testing"
	"time"
)

func TestReconnectDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 1 * time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 2, want: 4 * time.Second},
		{attempt: 3, want: 8 * time.Second},
		{attempt: 4, want: 16 * time.Second},
		{attempt: 5, want: 30 * time.Second}, // 32s capped
		{attempt: 6, want: 30 * time.Second},
		{attempt: 7, want: 30 * time.Second}, // exponent capped
		{attempt: 100, want: 30 * time.Second},
		{attempt: -1, want: 1 * time.Second},
	}

	for _, tc := range tests {
		got := reconnectDelay(tc.attempt)
		if got != tc.want {
			t.Fatalf("reconnectDelay(%d)=%v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRandomJitterBounds(t *testing.T) {
	t.Parallel()

	for i := 0; i < 1000; i++ {
		j := randomJitter()
		if j < 0 || j >= backoffJitterSpan {
			t.Fatalf("jitter %v out of [0, %v)", j, backoffJitterSpan)
		}
	}
}
