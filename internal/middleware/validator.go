package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Input validation and sanitization utilities

var (
	validate     *validator.Validate
	validateOnce sync.Once

	batchIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("batchid", func(fl validator.FieldLevel) bool {
			return batchIDPattern.MatchString(fl.Field().String())
		})
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

var (
	// ErrInvalidRequest wraps every decode or validation failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrBodyTooLarge is returned when a capped body overflows.
	ErrBodyTooLarge = errors.New("request body too large")
)

// DecodeJSON decodes the body into dst and runs struct validation.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: max %d bytes", ErrBodyTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: malformed JSON body", ErrInvalidRequest)
	}
	return ValidateStruct(dst)
}

// DecodeJSONLimit caps the body at max bytes before decoding.
func DecodeJSONLimit(w http.ResponseWriter, r *http.Request, dst interface{}, max int64) error {
	if max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max)
	}
	return DecodeJSON(r, dst)
}

// ValidateStruct reports the first failing field by its json name.
func ValidateStruct(dst interface{}) error {
	err := structValidator().Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed on %s", ErrInvalidRequest, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' || r == '\r' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateBatchID checks a client batch id the same way the validator tag does.
func ValidateBatchID(id string) error {
	if err := structValidator().Var(id, "required,batchid"); err != nil {
		return fmt.Errorf("%w: batch_id must be 1-64 letters, digits, dash or underscore", ErrInvalidRequest)
	}
	return nil
}

// ValidateLimit clamps the history page size.
func ValidateLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
