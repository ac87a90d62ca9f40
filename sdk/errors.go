package oa

import (
	"fmt"
	"net/url"
)

// TransportError wraps failures from the HTTP or websocket layer so callers
// can tell plumbing errors apart from server-reported ones.
type TransportError struct {
	Op  string // operation attempted, e.g. "GET" or "dial"
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// redactURLUserInfo strips credentials from a URL before it reaches a log
// line or error message.
func redactURLUserInfo(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	return u.String()
}
