package router

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mbd888/guardian/internal/pending"
	"github.com/mbd888/guardian/internal/validation"
)

// RequestType names an inbound message kind.
type RequestType string

const (
	TypeAnalyzeTransaction      RequestType = "ANALYZE_TRANSACTION"
	TypeAnalyzeWalletConnection RequestType = "ANALYZE_WALLET_CONNECTION"
	TypeAnalyzeSigningRequest   RequestType = "ANALYZE_SIGNING_REQUEST"
	TypeGetPendingTransactions  RequestType = "GET_PENDING_TRANSACTIONS"
	TypeTransactionDecision     RequestType = "TRANSACTION_DECISION"
	TypeUserDecision            RequestType = "USER_DECISION"
	TypeGetSettings             RequestType = "GET_SETTINGS"
	TypeUpdateSettings          RequestType = "UPDATE_SETTINGS"
	TypeContentScriptReady      RequestType = "CONTENT_SCRIPT_READY"
	TypePageNavigated           RequestType = "PAGE_NAVIGATED"
	TypeContextClosed           RequestType = "CONTEXT_CLOSED"
)

// Message is one inbound request.
type Message struct {
	Type      RequestType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ContextID string          `json:"contextId,omitempty"`
	URL       string          `json:"url,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Source identifies where a message came from.
type Source struct {
	ContextID string
	URL       string
}

// Response is the reply to a Message. It always has "success"; failures
// also carry "error" and "code".
type Response map[string]any

// Success reports the response's success flag.
func (r Response) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Error codes.
const (
	CodeValidation = "validation_error"
	CodeNotFound   = "not_found"
	CodeRouting    = "routing_error"
	CodeInternal   = "internal_error"
	CodeTimeout    = "timeout"
)

// ErrUnknownType is returned for a message type with no handler.
var ErrUnknownType = errors.New("unknown request type")

func succeed(fields Response) Response {
	if fields == nil {
		fields = Response{}
	}
	fields["success"] = true
	return fields
}

func failure(code string, err error) Response {
	return Response{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	}
}

// errorResponse maps an error to its structured failure.
func errorResponse(err error) Response {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		resp := failure(CodeValidation, err)
		resp["details"] = []validation.ValidationError(verrs)
		return resp
	case errors.Is(err, pending.ErrNotFound):
		return failure(CodeNotFound, err)
	case errors.Is(err, ErrUnknownType):
		return failure(CodeRouting, err)
	case errors.Is(err, context.DeadlineExceeded):
		return failure(CodeTimeout, err)
	default:
		return failure(CodeInternal, err)
	}
}

func invalid(field, message string) error {
	return validation.ValidationErrors{{Field: field, Message: message}}
}
