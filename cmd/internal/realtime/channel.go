package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	v1 "tether/contracts/chat/v1"
)

// Channel names one logical duplex stream. Exactly two exist per session.
type Channel string

const (
	ChannelChat          Channel = v1.ChannelChat
	ChannelNotifications Channel = v1.ChannelNotifications
)

// Path returns the websocket endpoint path for the channel.
func (c Channel) Path() string {
	switch c {
	case ChannelChat:
		return "/ws/chat/"
	case ChannelNotifications:
		return "/ws/notifications/"
	default:
		return ""
	}
}

// Status is the three-valued connection state of one channel. It is owned by
// the channel's Supervisor and read-only everywhere else.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// EndpointURL resolves the websocket URL for a channel. base is either an
// explicit ws/wss base URL or an http/https origin, in which case the scheme
// is upgraded to its websocket equivalent.
func EndpointURL(base string, ch Channel) (string, error) {
	p := ch.Path()
	if p == "" {
		return "", fmt.Errorf("realtime: unknown channel %q", ch)
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("realtime: parse base url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("realtime: missing host")
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + p
	return u.String(), nil
}
