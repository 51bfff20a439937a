package auth

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// DefaultMaxBodyBytes bounds the body read for signature verification.
const DefaultMaxBodyBytes = 4 << 20

// AuthRequest is the transport-neutral view of a request that credential
// verification needs. Signature verification covers the method, URL,
// signed headers and body.
type AuthRequest struct {
	Method string
	Host   string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewAuthRequest captures r for authentication. The body is read up to
// maxBody bytes and r.Body is replaced so handlers can read it again.
func NewAuthRequest(r *http.Request, maxBody int64) (*AuthRequest, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		_ = r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("auth: read body: %w", err)
		}
		if int64(len(b)) > maxBody {
			return nil, fmt.Errorf("auth: body exceeds %d bytes", maxBody)
		}
		body = b
		r.Body = io.NopCloser(bytes.NewReader(b))
	}
	return &AuthRequest{
		Method: r.Method,
		Host:   r.Host,
		URL:    r.URL,
		Header: r.Header,
		Body:   body,
	}, nil
}
