package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	nativecommon "fluxrisk/native/common"
)

const maxBodyBytes = 1 << 20

type problem struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// statusFor maps engine error kinds onto HTTP status codes.
func statusFor(kind nativecommon.ErrorKind) int {
	switch kind {
	case nativecommon.KindNotFound:
		return http.StatusNotFound
	case nativecommon.KindInvalidAmount, nativecommon.KindInvalidRiskFactor:
		return http.StatusBadRequest
	case nativecommon.KindUnauthorized, nativecommon.KindAccountFlagged,
		nativecommon.KindUserBlacklisted, nativecommon.KindTransferLimitExceeded:
		return http.StatusForbidden
	case nativecommon.KindVaultFrozen, nativecommon.KindVaultHealthy,
		nativecommon.KindInsufficientLiquidity, nativecommon.KindLowReputation:
		return http.StatusConflict
	case nativecommon.KindArithmeticOverflow:
		return http.StatusUnprocessableEntity
	case nativecommon.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case nativecommon.KindSlippageExceeded:
		return http.StatusBadGateway
	case nativecommon.KindStaleOraclePrice, nativecommon.KindModulePaused:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, problem{Code: code, Message: message})
}

// writeError renders an engine error. Unclassified errors are reported
// without their detail.
func writeError(w http.ResponseWriter, err error) int {
	kind := nativecommon.KindOf(err)
	status := statusFor(kind)
	message := err.Error()
	if kind == nativecommon.KindUnknown {
		message = http.StatusText(status)
	}
	writeProblem(w, status, kind.String(), message)
	return status
}

var errEmptyBody = errors.New("request body required")

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
