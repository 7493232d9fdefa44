package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/domain/fault"
)

// maxBodyBytes caps request bodies. Checkout payloads are small; anything
// bigger is abuse.
const maxBodyBytes = 1 << 20

// errorResponse is the uniform error envelope. Available is only present on
// insufficient-stock conflicts so clients can offer the remaining quantity.
type errorResponse struct {
	Code      fault.Code `json:"code"`
	Message   string     `json:"message"`
	Available *int       `json:"available,omitempty"`
}

func statusFor(code fault.Code) int {
	switch code {
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeValidation:
		return http.StatusBadRequest
	case fault.CodeConflict:
		return http.StatusConflict
	case fault.CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error onto the wire. Internal errors are logged
// and masked; everything coded is surfaced verbatim.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := fault.CodeOf(err)
	resp := errorResponse{Code: code, Message: err.Error()}

	var stockErr *catalog.InsufficientStockError
	if errors.As(err, &stockErr) {
		resp.Available = &stockErr.Available
	}

	if code == fault.CodeInternal {
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		resp.Message = "internal error"
	}
	if code == fault.CodeTransient {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, statusFor(code), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already on the wire, nothing to do about a failed encode.
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into dst, rejecting unknown fields and
// oversized payloads. An empty body decodes the zero value.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fault.Wrap(err, fault.CodeValidation, "invalid request body")
	}
	return nil
}
