package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/cache"
	"github.com/jonwraymond/cachegate/engine"
	"github.com/jonwraymond/cachegate/invalidation"
)

// FreshnessHeader mirrors the freshness of a served entry.
const FreshnessHeader = "X-Cache-Freshness"

type getResponse struct {
	Hit              bool            `json:"hit"`
	Fingerprint      string          `json:"fingerprint"`
	Namespace        string          `json:"namespace"`
	Freshness        string          `json:"freshness"`
	RefreshSuggested bool            `json:"refreshSuggested,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	CachedAt         time.Time       `json:"cachedAt"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	AgeSeconds       int64           `json:"ageSeconds"`
	AccessCount      int64           `json:"accessCount"`
}

type setRequest struct {
	cache.Descriptor
	Payload     json.RawMessage `json:"payload"`
	TTL         seconds         `json:"ttl,omitempty"`
	Class       string          `json:"class,omitempty"`
	SourceURL   string          `json:"sourceUrl,omitempty"`
	ContentHash string          `json:"contentHash,omitempty"`
}

type setResponse struct {
	Fingerprint string    `json:"fingerprint"`
	Namespace   string    `json:"namespace"`
	TTLSeconds  int64     `json:"ttl"`
	CachedAt    time.Time `json:"cachedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type invalidateRequest struct {
	Pattern   string  `json:"pattern,omitempty"`
	Namespace string  `json:"namespace,omitempty"`
	OlderThan seconds `json:"olderThan,omitempty"`
	URL       string  `json:"url,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var d cache.Descriptor
	if err := decode(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := auth.PrincipalFromContext(r.Context())
	d.Namespace = namespaceFor(r, p, d.Namespace)
	if err := s.authorize(r, p, d.Namespace, auth.ActionRead); err != nil {
		s.writeError(w, r, err)
		return
	}

	lookup, err := s.engine.Get(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !lookup.Found {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: APIError{Code: CodeNotFound, Message: "cache miss"}})
		return
	}
	w.Header().Set(FreshnessHeader, lookup.Status.String())
	if !lookup.Hit() {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: APIError{Code: CodeNotFound, Message: "cache entry expired"}})
		return
	}

	e := lookup.Entry
	writeJSON(w, http.StatusOK, getResponse{
		Hit:              true,
		Fingerprint:      e.Fingerprint,
		Namespace:        e.Namespace,
		Freshness:        lookup.Status.String(),
		RefreshSuggested: lookup.RefreshSuggested(),
		Payload:          rawPayload(e.Payload),
		CachedAt:         e.CachedAt.UTC(),
		ExpiresAt:        e.ExpiresAt().UTC(),
		AgeSeconds:       int64(lookup.Age(s.now()) / time.Second),
		AccessCount:      e.AccessCount,
	})
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := auth.PrincipalFromContext(r.Context())
	req.Namespace = namespaceFor(r, p, req.Namespace)
	if err := s.authorize(r, p, req.Namespace, auth.ActionWrite); err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := []byte(req.Payload)
	if strings.TrimSpace(string(payload)) == "null" {
		payload = nil
	}
	e, err := s.engine.Set(r.Context(), engine.SetRequest{
		Descriptor:  req.Descriptor,
		Payload:     payload,
		TTL:         req.TTL.Duration(),
		Class:       req.Class,
		SourceURL:   req.SourceURL,
		ContentHash: req.ContentHash,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setResponse{
		Fingerprint: e.Fingerprint,
		Namespace:   e.Namespace,
		TTLSeconds:  int64(e.TTL / time.Second),
		CachedAt:    e.CachedAt.UTC(),
		ExpiresAt:   e.ExpiresAt().UTC(),
	})
}

// handleInvalidate does not default the namespace: a request with no
// criteria must be rejected, not widened to the caller's namespace.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.invalidator.Invalidate(r.Context(), auth.PrincipalFromContext(r.Context()), invalidation.Criteria{
		Namespace: req.Namespace,
		Pattern:   req.Pattern,
		OlderThan: req.OlderThan.Duration(),
		SourceURL: req.URL,
		Reason:    req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) authorize(r *http.Request, p *auth.Principal, namespace, action string) error {
	if err := cache.ValidateNamespace(namespace); err != nil {
		return err
	}
	return s.authorizer.Authorize(r.Context(), &auth.AuthzRequest{Subject: p, Namespace: namespace, Action: action})
}

// namespaceFor applies body, then header, then the principal's default.
func namespaceFor(r *http.Request, p *auth.Principal, fromBody string) string {
	if ns := strings.TrimSpace(fromBody); ns != "" {
		return ns
	}
	if ns := strings.TrimSpace(r.Header.Get(NamespaceHeader)); ns != "" {
		return ns
	}
	return p.DefaultNamespace()
}

// rawPayload returns stored bytes as JSON, quoting payloads that were not
// written as JSON.
func rawPayload(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
