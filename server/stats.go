package server

import (
	"net/http"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/quota"
)

type statsResponse struct {
	Principal      string      `json:"principal"`
	CredentialKind string      `json:"credentialKind"`
	Plan           string      `json:"plan"`
	Trial          bool        `json:"trial"`
	Namespaces     []string    `json:"namespaces"`
	Usage          quota.Usage `json:"usage"`
	Listeners      *int        `json:"listeners,omitempty"`
}

// handleStats reports usage without consuming quota.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	usage, err := s.guard.Usage(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := statsResponse{
		Principal:      p.ID,
		CredentialKind: string(p.CredentialKind),
		Plan:           p.PlanTier,
		Trial:          p.Trial,
		Namespaces:     p.Namespaces,
		Usage:          usage,
	}
	if s.listeners != nil {
		ls, err := s.listeners.List(r.Context(), p)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		n := len(ls)
		resp.Listeners = &n
	}
	writeJSON(w, http.StatusOK, resp)
}
