package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// FederationLogin redirects the user agent to an upstream identity
// provider configured for the tenant.
func (s *Server) FederationLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenantFromHost(r.Host)
		if err != nil {
			http.Error(w, "unknown tenant", http.StatusBadRequest)
			return
		}

		providerID := r.PathValue("provider")
		returnURL := r.URL.Query().Get("return_url")

		authURL, err := s.services.Federation.AuthURL(r.Context(), tenant.ID, providerID, returnURL)
		if err != nil {
			log.Err(err).Str("provider", providerID).Msg("federated login start failed")
			http.Error(w, "unknown identity provider", http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, authURL, http.StatusSeeOther)
	}
}

// FederationCallback finishes a federated login: the upstream provider
// redirects here with code and state.
func (s *Server) FederationCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenantFromHost(r.Host)
		if err != nil {
			http.Error(w, "unknown tenant", http.StatusBadRequest)
			return
		}

		if upstreamErr := r.URL.Query().Get("error"); upstreamErr != "" {
			writeJSONError(w, upstreamErr, r.URL.Query().Get("error_description"), http.StatusBadRequest)
			return
		}

		state := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")
		if state == "" || code == "" {
			writeJSONError(w, "invalid_request", "code and state parameters are required", http.StatusBadRequest)
			return
		}

		identity, returnURL, err := s.services.Federation.Exchange(r.Context(), tenant.ID, state, code)
		if err != nil {
			log.Err(err).Msg("federated login callback failed")
			writeJSONError(w, "access_denied", "upstream authentication failed", http.StatusBadRequest)
			return
		}

		if returnURL != "" {
			http.Redirect(w, r, returnURL, http.StatusSeeOther)
			return
		}
		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(identity)
	}
}
