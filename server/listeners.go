package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/listener"
)

type registerRequest struct {
	URL                string  `json:"url"`
	CheckInterval      seconds `json:"checkInterval,omitempty"`
	Namespace          string  `json:"namespace,omitempty"`
	InvalidateOnChange *bool   `json:"invalidateOnChange,omitempty"`
	Webhook            string  `json:"webhook,omitempty"`
}

type registerResponse struct {
	ListenerID  string       `json:"listenerId"`
	InitialHash string       `json:"initialHash"`
	Listener    listenerView `json:"listener"`
}

// listenerView adds the fields a client schedules around.
type listenerView struct {
	*listener.Listener
	CheckIntervalSeconds int64     `json:"checkInterval"`
	NextCheckAt          time.Time `json:"nextCheckAt,omitzero"`
}

func viewOf(l *listener.Listener) listenerView {
	v := listenerView{Listener: l, CheckIntervalSeconds: int64(l.CheckInterval / time.Second)}
	if l.Enabled() {
		v.NextCheckAt = l.NextCheckAt().UTC()
	}
	return v
}

func (s *Server) handleRegisterListener(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := auth.PrincipalFromContext(r.Context())

	invalidate := true
	if req.InvalidateOnChange != nil {
		invalidate = *req.InvalidateOnChange
	}
	l, err := s.listeners.Register(r.Context(), p, listener.RegisterRequest{
		URL:                req.URL,
		CheckInterval:      req.CheckInterval.Duration(),
		Namespace:          namespaceFor(r, p, req.Namespace),
		InvalidateOnChange: invalidate,
		WebhookURL:         req.Webhook,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		ListenerID:  l.ID,
		InitialHash: l.InitialHash,
		Listener:    viewOf(l),
	})
}

func (s *Server) handleListListeners(w http.ResponseWriter, r *http.Request) {
	ls, err := s.listeners.List(r.Context(), auth.PrincipalFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]listenerView, 0, len(ls))
	for _, l := range ls {
		views = append(views, viewOf(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listeners": views})
}

func (s *Server) handleGetListener(w http.ResponseWriter, r *http.Request) {
	s.withListener(w, r, s.listeners.Get)
}

func (s *Server) handleDeleteListener(w http.ResponseWriter, r *http.Request) {
	s.withListener(w, r, s.listeners.Delete)
}

func (s *Server) handleEnableListener(w http.ResponseWriter, r *http.Request) {
	s.withListener(w, r, s.listeners.Enable)
}

type listenerOp func(ctx context.Context, p *auth.Principal, id string) (*listener.Listener, error)

func (s *Server) withListener(w http.ResponseWriter, r *http.Request, op listenerOp) {
	l, err := op(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(l))
}
