package server

import (
	"encoding/json"
	"net/http"
)

// BackchannelAuthentication handles CIBA backchannel authentication
// requests (poll mode).
func (s *Server) BackchannelAuthentication() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenantFromHost(r.Host)
		if err != nil {
			http.Error(w, "unknown tenant", http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
			return
		}

		auth := clientAuthFromRequest(r)
		resp, oerr := s.services.Backchannel.HandleRequest(r.Context(), tenant.Issuer, r.PostForm, auth)
		if oerr != nil {
			writeOAuth2Error(w, oerr)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// BackchannelApprove is called by the authentication device once the user
// has approved a pending backchannel request.
func (s *Server) BackchannelApprove() http.HandlerFunc {
	return s.backchannelDecision(func(r *http.Request, tenantID, authReqID string) error {
		return s.services.Backchannel.Approve(r.Context(), tenantID, authReqID)
	})
}

// BackchannelDeny is called by the authentication device when the user
// refuses a pending backchannel request.
func (s *Server) BackchannelDeny() http.HandlerFunc {
	return s.backchannelDecision(func(r *http.Request, tenantID, authReqID string) error {
		return s.services.Backchannel.Deny(r.Context(), tenantID, authReqID)
	})
}

func (s *Server) backchannelDecision(decide func(r *http.Request, tenantID, authReqID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenantFromHost(r.Host)
		if err != nil {
			http.Error(w, "unknown tenant", http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
			return
		}

		authReqID := r.PostFormValue("auth_req_id")
		if authReqID == "" {
			writeJSONError(w, "invalid_request", "auth_req_id parameter is required", http.StatusBadRequest)
			return
		}

		if err := decide(r, tenant.ID, authReqID); err != nil {
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
