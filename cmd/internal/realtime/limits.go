package realtime

import "time"

// Wire and resource limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB
)

// Reconnection policy. Delay for attempt n (before jitter) is
// min(backoffCap, backoffBase * 2^min(n, backoffMaxExponent)).
const (
	backoffBase        = 1 * time.Second
	backoffCap         = 30 * time.Second
	backoffMaxExponent = 6
	backoffJitterSpan  = 300 * time.Millisecond
)

// Typing coordinator timings.
const (
	// Minimum spacing between outbound "typing started" signals.
	typingDebounce = 100 * time.Millisecond
	// A "typing stopped" signal fires this long after the last keystroke.
	typingStopDelay = 2 * time.Second
	// Remote typing entries older than this are stale and purged before reads.
	typingTTL = 5 * time.Second
)

// Heartbeat defaults for owned connections.
const (
	heartbeatInterval    = 25 * time.Second
	heartbeatTimeout     = 5 * time.Second
	heartbeatMaxFailures = 3
)

const (
	defaultWriteTimeout = 5 * time.Second
)
