package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/authplane/authplane/authorize"
	"github.com/authplane/authplane/oauth2"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
)

// WellKnownOpenIDConfig serves the OIDC discovery document
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenantFromHost(r.Host)
		if err != nil {
			http.Error(w, "unknown tenant", http.StatusBadRequest)
			return
		}

		baseURL := tenant.Issuer

		grantTypes := make([]string, 0, len(tenant.GrantTypes))
		for _, gt := range tenant.GrantTypes {
			grantTypes = append(grantTypes, string(gt))
		}

		resp := map[string]any{
			"issuer":                 baseURL,
			"authorization_endpoint": baseURL + RouteOAuth2Authorize,
			"token_endpoint":         baseURL + RouteOAuth2Token,
			"jwks_uri":               baseURL + RouteWellKnownJWKS,
			"revocation_endpoint":    baseURL + RouteOAuth2Revoke,
			"introspection_endpoint": baseURL + RouteOAuth2Introspect,

			"backchannel_authentication_endpoint":        baseURL + RouteBackchannelAuth,
			"backchannel_token_delivery_modes_supported": []string{"poll"},
			"backchannel_user_code_parameter_supported":  true,

			"response_types_supported": []string{"code"},
			"response_modes_supported": []string{"query", "fragment", "form_post"},
			"subject_types_supported":  []string{"public"},

			"id_token_signing_alg_values_supported":       []string{"RS256", "ES256", "HS256"},
			"request_object_signing_alg_values_supported": []string{"RS256", "ES256", "HS256", "none"},

			"scopes_supported":      tenant.Scopes,
			"grant_types_supported": grantTypes,

			"token_endpoint_auth_methods_supported": []string{
				"client_secret_basic",
				"client_secret_post",
				"client_secret_jwt",
				"private_key_jwt",
				"tls_client_auth",
				"self_signed_tls_client_auth",
				"none",
			},

			"code_challenge_methods_supported": []string{"S256", "plain"},

			"request_parameter_supported":     true,
			"request_uri_parameter_supported": true,
			"claims_parameter_supported":      true,

			"authorization_details_types_supported":      []string{"payment_initiation", "account_information"},
			"tls_client_certificate_bound_access_tokens": tenant.TLSBoundAccessTokens,
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600") // Cache for 1 hour
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// JWKS returns the JSON Web Key Set used to validate tokens
func (s *Server) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenantFromHost(r.Host)
		if err != nil {
			http.Error(w, "unknown tenant", http.StatusBadRequest)
			return
		}

		jwks, err := s.services.Issuer.GetJWKS(tenant)
		if err != nil {
			http.Error(w, "Failed to get JWKS: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600") // Cache for 1 hour
		_ = json.NewEncoder(w).Encode(jwks)
	}
}

// Authorize handles the authorization endpoint. Both GET and POST are
// accepted per RFC 6749 §3.1.
func (s *Server) Authorize() http.HandlerFunc {
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

		resp := s.services.Authorize.Authorize(r.Context(), tenant.Issuer, r.Form)
		s.writeAuthorizeResponse(w, r, resp)
	}
}

// AuthorizeApprove is called by the interaction layer once the resource
// owner has logged in and granted consent.
func (s *Server) AuthorizeApprove() http.HandlerFunc {
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

		requestID := r.PostFormValue("authorization_request_id")
		consent := authorize.Consent{
			Subject:         r.PostFormValue("subject"),
			AuthTime:        time.Now(),
			IDTokenClaims:   r.PostForm["id_token_claim"],
			UserinfoClaims:  r.PostForm["userinfo_claim"],
			ReplaceExisting: r.PostFormValue("replace_existing") == "true",
		}
		if authTime := r.PostFormValue("auth_time"); authTime != "" {
			if parsed, err := time.Parse(time.RFC3339, authTime); err == nil {
				consent.AuthTime = parsed
			}
		}

		resp := s.services.Authorize.Approve(r.Context(), tenant.Issuer, requestID, consent)
		s.writeAuthorizeResponse(w, r, resp)
	}
}

// AuthorizeDeny is called by the interaction layer when the resource owner
// refuses the request.
func (s *Server) AuthorizeDeny() http.HandlerFunc {
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

		requestID := r.PostFormValue("authorization_request_id")
		resp := s.services.Authorize.Deny(r.Context(), tenant.Issuer, requestID)
		s.writeAuthorizeResponse(w, r, resp)
	}
}

// Token exchanges code/credentials for tokens
func (s *Server) Token() http.HandlerFunc {
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
		tokenResponse, oerr := s.services.Tokens.Handle(r.Context(), tenant.Issuer, r.PostForm, auth)
		if oerr != nil {
			writeOAuth2Error(w, oerr)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		_ = json.NewEncoder(w).Encode(tokenResponse)
	}
}

// Introspect introspects tokens
func (s *Server) Introspect() http.HandlerFunc {
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

		token := r.PostFormValue("token")
		if token == "" {
			writeJSONError(w, "invalid_request", "token parameter is required", http.StatusBadRequest)
			return
		}

		introspection, err := s.services.Issuer.Introspection(tenant, token)
		if err != nil {
			writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(introspection)
	}
}

// Revoke revokes tokens
func (s *Server) Revoke() http.HandlerFunc {
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

		token := r.PostFormValue("token")
		if token == "" {
			writeJSONError(w, "invalid_request", "token parameter is required", http.StatusBadRequest)
			return
		}

		// RFC 7009 §2.2: revoking an invalid token is not an error.
		if err := s.services.Issuer.RevokeAccessToken(tenant, token); err != nil {
			log.Debug().Err(err).Msg("token revocation ignored unparseable token")
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Helper functions

// formPostTemplate auto-submits the authorization response to the client's
// redirect URI per the OAuth 2.0 Form Post Response Mode spec.
var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submit This Form</title></head>
<body onload="javascript:document.forms[0].submit()">
<form method="post" action="{{.RedirectURI}}">
{{- range $name, $values := .Params}}{{range $values}}
<input type="hidden" name="{{$name}}" value="{{.}}"/>
{{- end}}{{end}}
</form>
</body>
</html>`))

// writeAuthorizeResponse maps an authorization service response onto the
// wire: redirects (query, fragment or form_post) for resolved requests,
// JSON for interaction-required and error outcomes.
func (s *Server) writeAuthorizeResponse(w http.ResponseWriter, r *http.Request, resp *authorize.Response) {
	// A response carrying a redirect is resolved: the user agent goes back
	// to the client regardless of which operation resolved it.
	status := resp.Status
	if status == authorize.StatusOK && resp.RedirectURI != "" {
		status = authorize.StatusNoInteractionOK
	}

	switch status {
	case authorize.StatusNoInteractionOK, authorize.StatusRedirectableBadRequest:
		if resp.ResponseMode == oauth2.FormPostResponseMode {
			w.Header().Set("Content-Type", contentTypeHTML)
			w.Header().Set("Cache-Control", "no-store")
			data := struct {
				RedirectURI string
				Params      map[string][]string
			}{RedirectURI: resp.RedirectURI, Params: resp.Params}
			if err := formPostTemplate.Execute(w, data); err != nil {
				log.Err(err).Msg("failed to render form_post response")
			}
			return
		}
		http.Redirect(w, r, resp.RedirectURI, http.StatusSeeOther)

	case authorize.StatusOK, authorize.StatusOKSessionEnable, authorize.StatusOKAccountCreation:
		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":                   string(status),
			"authorization_request_id": resp.AuthorizationRequestID,
			"session_key":              resp.SessionKey,
		})

	case authorize.StatusBadRequest:
		writeOAuth2Error(w, resp.Err)

	default:
		writeJSONError(w, "server_error", "internal server error", http.StatusInternalServerError)
	}
}

// writeOAuth2Error writes a protocol error with the status RFC 6749 §5.2
// assigns to its code.
func writeOAuth2Error(w http.ResponseWriter, oerr *oauth2.Error) {
	status := http.StatusBadRequest
	switch oerr.Code {
	case oauth2.ErrInvalidClient:
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Basic realm="token endpoint"`)
	case oauth2.ErrServerError:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oerr)
}

// writeJSONError writes an OAuth2 error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
