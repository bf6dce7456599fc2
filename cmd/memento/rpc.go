package main

import (
	"errors"

	"github.com/foundrylabs/memento/internal/facade"
	"github.com/foundrylabs/memento/internal/memerr"
)

// rpcRequest is one line of the newline-delimited JSON-RPC stream.
type rpcRequest struct {
	ID              any            `json:"id"`
	Method          string         `json:"method"`
	ProtocolVersion string         `json:"protocol_version,omitempty"`
	Args            map[string]any `json:"args"`
}

// rpcResponse is one reply line.
type rpcResponse struct {
	ID     any         `json:"id"`
	Result *facade.Response `json:"result,omitempty"`
	Error  *rpcError   `json:"error,omitempty"`
}

// rpcError follows the standard JSON-RPC mapping: validation/input is Invalid
// Params, unknown tool is Method Not Found, everything else is Internal
// Error, with a stable `type` discriminator and structured `context` in
// `data`.
type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

const (
	codeInvalidParams = -32602
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// protocolVersion is the server's supported protocolVersion string;
// a mismatching client request fails initialize with the literal
// "Protocol version mismatch" message.
const protocolVersion = "2025-06-18"

func mapError(err error) *rpcError {
	var fe *memerr.Error
	if !errors.As(err, &fe) {
		return &rpcError{Code: codeInternalError, Message: err.Error(), Data: map[string]any{"type": string(memerr.KindInternal)}}
	}

	code := codeInternalError
	switch fe.Kind {
	case memerr.KindInvalidInput, memerr.KindInvalidContext, memerr.KindConfirmationRequired:
		code = codeInvalidParams
	}
	data := map[string]any{"type": string(fe.Kind), "context": fe.Context}
	if fe.Suggestion != "" {
		data["suggestion"] = fe.Suggestion
	}
	return &rpcError{Code: code, Message: fe.Message, Data: data}
}

func unknownMethodError(method string) *rpcError {
	return &rpcError{Code: codeMethodNotFound, Message: "unknown tool: " + method, Data: map[string]any{"type": string(memerr.KindInvalidInput)}}
}
