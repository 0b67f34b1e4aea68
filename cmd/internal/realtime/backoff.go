package realtime

import (
	"math/rand/v2"
	"time"
)

// reconnectDelay computes the backoff before reconnection attempt n,
// excluding jitter: min(backoffCap, backoffBase * 2^min(n, backoffMaxExponent)).
func reconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := attempt
	if exp > backoffMaxExponent {
		exp = backoffMaxExponent
	}

	d := backoffBase * (1 << exp)
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// randomJitter returns a duration in [0, backoffJitterSpan). The jitter keeps
// a fleet of clients from resynchronizing their retries after a server restart.
func randomJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(backoffJitterSpan)))
}
