package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/bryanwahyu/contract-risk/internal/domain/ai"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/batch"
	"github.com/bryanwahyu/contract-risk/internal/domain/credit"
	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
	"github.com/bryanwahyu/contract-risk/internal/domain/share"
	"github.com/bryanwahyu/contract-risk/internal/middleware"
)

// errorBody maps a use-case error to a status and a {message, code} body.
// Clients branch on code, so keep the strings stable.
func errorBody(err error) (int, map[string]any) {
	body := func(code, msg string) map[string]any {
		return map[string]any{"message": msg, "code": code}
	}

	var insufficient *credit.InsufficientError
	var incomplete *batch.IncompleteError
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, body("UNAUTHORIZED", "authentication required")

	case errors.As(err, &insufficient):
		b := body("INSUFFICIENT_CREDITS", "insufficient credits")
		b["credits"] = insufficient.Balance
		return http.StatusPaymentRequired, b
	case errors.Is(err, credit.ErrInsufficient):
		return http.StatusPaymentRequired, body("INSUFFICIENT_CREDITS", "insufficient credits")

	case errors.As(err, &incomplete):
		b := body("BATCH_INCOMPLETE", err.Error())
		b["received"] = incomplete.Received
		b["total"] = incomplete.Total
		return http.StatusConflict, b
	case errors.Is(err, batch.ErrInProgress), errors.Is(err, analysis.ErrGuardBusy):
		return http.StatusConflict, body("IN_PROGRESS", "the same analysis is still running, retry shortly")
	case errors.Is(err, batch.ErrParameterMismatch):
		return http.StatusConflict, body("BATCH_PARAMS_MISMATCH", "batch parameters differ from the first part")
	case errors.Is(err, batch.ErrInvalidPart):
		return http.StatusBadRequest, body("INVALID_BATCH_PART", err.Error())

	case errors.Is(err, analysis.ErrFileTooLarge), errors.Is(err, middleware.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, body("FILE_TOO_LARGE", err.Error())
	case errors.Is(err, extraction.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, body("UNSUPPORTED_MEDIA_TYPE", err.Error())
	case errors.Is(err, analysis.ErrInvalidInput), errors.Is(err, middleware.ErrInvalidRequest):
		return http.StatusBadRequest, body("INVALID_INPUT", err.Error())

	case errors.Is(err, share.ErrExpired):
		return http.StatusGone, body("SHARE_EXPIRED", "share link expired")
	case errors.Is(err, analysis.ErrNotFound), errors.Is(err, batch.ErrNotFound),
		errors.Is(err, share.ErrNotFound), errors.Is(err, analysis.ErrNoFile):
		return http.StatusNotFound, body("NOT_FOUND", err.Error())

	case errors.Is(err, ai.ErrQuotaExceeded):
		return http.StatusTooManyRequests, body("AI_QUOTA_EXCEEDED", "ai quota exceeded")
	case errors.Is(err, ai.ErrOracleOutputInvalid):
		return http.StatusBadGateway, body("ORACLE_OUTPUT_INVALID", "analysis service returned an unreadable result")
	case errors.Is(err, ai.ErrOracleUnavailable):
		return http.StatusBadGateway, body("ORACLE_UNAVAILABLE", "analysis service unavailable")

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, body("TIMEOUT", "request timed out")
	}
	return http.StatusInternalServerError, body("INTERNAL", "internal error")
}
