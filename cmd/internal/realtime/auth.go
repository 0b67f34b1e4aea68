package realtime

import (
	"net/http"
	"strings"
)

const (
	// Subprotocol advertised on every connection attempt.
	wsSubprotocolV1 = "tether.chat.v1"
	// Prefix for the bearer-token subprotocol value in fallback mode.
	bearerSubprotocolPrefix = "tether.bearer."
	// Query parameter used by the last-resort token mode.
	tokenQueryParam = "token"
)

// Credentials selects how a connection attempt authenticates. Exactly one
// mode is active per attempt:
//
//  1. ambient: the session cookie in Jar is attached by the transport itself;
//     no token appears in application code.
//  2. subprotocol: BearerToken is carried as a connection-level subprotocol
//     value, used only when the token is a syntactically well-formed
//     three-part signed token.
//  3. query: BearerToken is appended as a URL query parameter; requires
//     AllowQueryToken and is engaged only when the subprotocol mode is
//     unavailable.
type Credentials struct {
	Jar http.CookieJar

	BearerToken string
	// DisableSubprotocol forces token auth off the subprotocol path.
	DisableSubprotocol bool
	// AllowQueryToken explicitly opts in to the query-parameter fallback.
	AllowQueryToken bool
}

type authMode uint8

const (
	authAmbient authMode = iota
	authSubprotocol
	authQueryToken
)

func (c Credentials) mode() authMode {
	if c.Jar != nil {
		return authAmbient
	}

	tok := strings.TrimSpace(c.BearerToken)
	if tok != "" && !c.DisableSubprotocol && wellFormedSignedToken(tok) {
		return authSubprotocol
	}
	if tok != "" && c.AllowQueryToken {
		return authQueryToken
	}

	// No usable token: dial with the ambient mode and let the server decide.
	return authAmbient
}

// wellFormedSignedToken reports whether tok looks like a three-part signed
// token: three dot-separated, non-empty, URL-safe base64 segments. Anything
// else is rejected so a garbage value never leaks into the handshake.
func wellFormedSignedToken(tok string) bool {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			case r == '-' || r == '_' || r == '=':
			default:
				return false
			}
		}
	}
	return true
}
