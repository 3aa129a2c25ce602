package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/credential"
	"github.com/nerrad567/gray-logic-gateway/internal/pairing"
)

const ctxKeyGrant contextKey = "token_grant"

// adminTokenMiddleware requires an API token whose role may manage pairing.
func (s *Server) adminTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			writeUnavailable(w, "token store not configured")
			return
		}

		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeUnauthorized(w, "bearer token required")
			return
		}

		grant, err := s.tokens.Validate(r.Context(), raw)
		switch {
		case errors.Is(err, credential.ErrInvalid):
			writeUnauthorized(w, "api token invalid")
			return
		case err != nil:
			s.logger.Error("validating admin token", "error", err)
			writeUnavailable(w, "token store unavailable")
			return
		}

		if !auth.HasPermission(grant.Role, auth.PermDevicePairManage) {
			s.logger.Info("admin endpoint denied",
				"path", r.URL.Path,
				"token_name", grant.Name,
				"role", grant.Role,
			)
			writeForbidden(w, "role "+string(grant.Role)+" lacks "+string(auth.PermDevicePairManage))
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyGrant, grant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// handleListPairingRequests lists pairing requests. ?status= filters by
// pending, approved or rejected; the default is pending.
func (s *Server) handleListPairingRequests(w http.ResponseWriter, r *http.Request) {
	if s.pairing == nil {
		writeUnavailable(w, "pairing store not configured")
		return
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "":
		status = pairing.StatusPending
	case pairing.StatusPending, pairing.StatusApproved, pairing.StatusRejected:
	default:
		writeBadRequest(w, "status must be pending, approved or rejected")
		return
	}

	requests, err := s.pairing.ListPairingRequests(r.Context(), status)
	if err != nil {
		s.logger.Error("listing pairing requests", "error", err)
		writeInternalError(w, "listing pairing requests failed")
		return
	}
	if requests == nil {
		requests = []pairing.PairingRequest{}
	}
	if grant, ok := r.Context().Value(ctxKeyGrant).(*credential.TokenGrant); ok {
		s.logger.Debug("pairing requests listed", "token_name", grant.Name, "status", status, "count", len(requests))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}
