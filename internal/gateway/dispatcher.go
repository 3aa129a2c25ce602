package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/credential"
	"github.com/nerrad567/gray-logic-gateway/internal/pairing"
	"github.com/nerrad567/gray-logic-gateway/internal/pairingcode"
)

type methodHandler func(ctx context.Context, s *Session, params json.RawMessage) (any, error)

// methodError is a request-scoped failure with a wire code.
type methodError struct {
	code    string
	message string
}

func (e *methodError) Error() string { return e.message }

func invalidParams(message string) error {
	return &methodError{code: CodeInvalidRequest, message: message}
}

// Handle serves one request on an established session. Failures are scoped
// to the request; the connection stays open. A malformed frame without an id
// gets no response at all, so Handle returns nil for it.
func (g *Gateway) Handle(ctx context.Context, s *Session, raw []byte) *ResponseFrame {
	var req RequestFrame
	if err := json.Unmarshal(raw, &req); err != nil || req.Type != FrameRequest || req.ID == "" || req.Method == "" {
		if req.ID == "" {
			g.logger.Debug("dropping malformed frame", "conn_id", s.ConnID)
			return nil
		}
		return errorResponse(req.ID, &ErrorShape{Code: CodeInvalidRequest, Message: "invalid request frame"})
	}
	if req.Method == "connect" {
		return errorResponse(req.ID, &ErrorShape{Code: CodeInvalidRequest, Message: "already connected"})
	}

	decision := g.authz.Authorize(ctx, req.Method, s.Caller())
	if !decision.Allowed {
		return errorResponse(req.ID, &ErrorShape{Code: CodeForbidden, Message: decision.Reason})
	}

	handler, ok := g.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, &ErrorShape{Code: CodeInvalidRequest, Message: "unknown method: " + req.Method})
	}

	payload, err := handler(ctx, s, req.Params)
	if err != nil {
		return errorResponse(req.ID, g.errorShape(req.Method, s, err))
	}
	return okResponse(req.ID, payload)
}

func (g *Gateway) errorShape(method string, s *Session, err error) *ErrorShape {
	var me *methodError
	switch {
	case errors.As(err, &me):
		return &ErrorShape{Code: me.code, Message: me.message}
	case errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, credential.ErrNotFound),
		errors.Is(err, credential.ErrEmptyName),
		errors.Is(err, pairing.ErrRequestNotFound),
		errors.Is(err, pairing.ErrRequestResolved),
		errors.Is(err, pairing.ErrDeviceNotFound),
		errors.Is(err, pairingcode.ErrGenerationExhausted):
		return &ErrorShape{Code: CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, credential.ErrUnavailable):
		return &ErrorShape{Code: CodeUnavailable, Message: err.Error()}
	}
	g.logger.Error("method failed", "method", method, "conn_id", s.ConnID, "error", err)
	return &ErrorShape{Code: CodeUnavailable, Message: "internal error"}
}

// decodeParams unmarshals params into v. Absent params leave v untouched.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("invalid params: " + err.Error())
	}
	return nil
}
