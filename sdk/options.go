package oa

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const defaultMaxReconnectAttempts = 5

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the server base URL (http, https, ws, or wss).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client for the snapshot and saves API.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the request timeout on the default HTTP client. Ignored
// when WithHTTPClient is also given.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = newDefaultHTTPClient()
		}
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets the logger used by the client and its sessions.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxReconnectAttempts bounds how many consecutive reconnect attempts a
// session makes after an abnormal disconnect before giving up. Zero disables
// reconnection entirely.
func WithMaxReconnectAttempts(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxReconnectAttempts = n
		}
	}
}

func newDefaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// MicSource opens a microphone stream and delivers raw PCM chunks to the
// given callback until closed. audio.OpenMic satisfies this signature.
type MicSource func(onChunk func([]byte)) (io.Closer, error)

// SessionOption configures a SessionClient.
type SessionOption func(*SessionClient)

// WithMicSource attaches a microphone source to the session. Captured PCM is
// streamed to the server as input audio deltas. A source that fails to open
// is logged and skipped; the session still connects.
func WithMicSource(source MicSource) SessionOption {
	return func(s *SessionClient) {
		s.micSource = source
	}
}

// WithAudioSink routes decoded output audio to the given sink, e.g. an
// *audio.Player's Enqueue method.
func WithAudioSink(sink func(pcm []byte)) SessionOption {
	return func(s *SessionClient) {
		s.audioSink = sink
	}
}
