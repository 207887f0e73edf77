package oauth

import (
	"encoding/json"
	"net/http"

	mcpoauth "github.com/giantswarm/mcp-oauth"
	"github.com/giantswarm/mcp-oauth/security"

	"github.com/teemow/calendar-mcp/internal/logging"
)

// AuthorizationServerMetadata returns the RFC 8414 document for this server.
func (h *Handler) AuthorizationServerMetadata() mcpoauth.AuthorizationServerMetadata {
	return mcpoauth.AuthorizationServerMetadata{
		Issuer:                            h.baseURL,
		AuthorizationEndpoint:             h.baseURL + AuthorizePath,
		TokenEndpoint:                     h.baseURL + TokenPath,
		RevocationEndpoint:                h.baseURL + RevokePath,
		ScopesSupported:                   h.controller.SupportedScopes(),
		ResponseTypesSupported:            SupportedResponseTypes,
		GrantTypesSupported:               SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
		CodeChallengeMethodsSupported:     SupportedCodeChallengeMethods,
	}
}

// ProtectedResourceMetadata returns the RFC 9728 document. MCP clients reach
// it through the WWW-Authenticate challenge and learn that this server is
// its own authorization server.
func (h *Handler) ProtectedResourceMetadata() mcpoauth.ProtectedResourceMetadata {
	return mcpoauth.ProtectedResourceMetadata{
		Resource:               h.baseURL,
		AuthorizationServers:   []string{h.baseURL},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        h.controller.SupportedScopes(),
	}
}

// ServeAuthorizationServerMetadata serves GET /.well-known/oauth-authorization-server.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	h.writeMetadata(w, h.AuthorizationServerMetadata())
}

// ServeProtectedResourceMetadata serves GET /.well-known/oauth-protected-resource.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	h.writeMetadata(w, h.ProtectedResourceMetadata())
}

func (h *Handler) writeMetadata(w http.ResponseWriter, metadata any) {
	security.SetSecurityHeaders(w, h.baseURL)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		h.logger.Error("Failed to encode metadata", logging.Err(err))
	}
}
