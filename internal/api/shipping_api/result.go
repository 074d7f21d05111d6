package shipping_api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
)

// Result is the envelope every route answers with.
type Result struct {
	Success      bool   `json:"success"`
	Data         any    `json:"data,omitempty"`
	Code         string `json:"code,omitempty"`
	Error        string `json:"error,omitempty"`
	ProviderBody string `json:"provider_body,omitempty"`
}

const codeInternal = "internal_error"

func grpcCode(k shiperr.Kind) codes.Code {
	switch k {
	case shiperr.KindValidation:
		return codes.InvalidArgument
	case shiperr.KindNotFound:
		return codes.NotFound
	case shiperr.KindConflict:
		return codes.AlreadyExists
	case shiperr.KindRateLimited:
		return codes.ResourceExhausted
	case shiperr.KindAuth, shiperr.KindProvider:
		// auth errors are about our aggregator credentials, not the caller
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatus maps an error kind onto the gateway's code-to-status table.
func HTTPStatus(k shiperr.Kind) int {
	return runtime.HTTPStatusFromCode(grpcCode(k))
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Result{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error, data any) {
	e, ok := shiperr.As(err)
	if !ok {
		slog.Error("unexpected api error", "err", err)
		writeJSON(w, http.StatusInternalServerError, Result{Code: codeInternal, Error: "internal error", Data: data})
		return
	}
	res := Result{Code: string(e.Kind), Error: e.Error(), Data: data}
	if e.Kind == shiperr.KindProvider && e.Body != "" {
		res.Error = e.Message
		res.ProviderBody = e.Body
	}
	writeJSON(w, HTTPStatus(e.Kind), res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
