package ai

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrOracleUnavailable covers transport failures and timeouts.
var ErrOracleUnavailable = errors.New("analysis oracle unavailable")

// ErrOracleOutputInvalid means the response could not be parsed into the result schema.
var ErrOracleOutputInvalid = errors.New("analysis oracle output invalid")

// ErrOracleTruncated is an invalid output cut off by the completion token cap.
var ErrOracleTruncated = fmt.Errorf("%w: reply truncated", ErrOracleOutputInvalid)

// IsOracleError reports whether err aborts the unit of work as an oracle failure.
func IsOracleError(err error) bool {
	return errors.Is(err, ErrOracleUnavailable) ||
		errors.Is(err, ErrOracleOutputInvalid) ||
		errors.Is(err, ErrQuotaExceeded)
}
