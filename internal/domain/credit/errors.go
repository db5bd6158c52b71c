package credit

import (
	"errors"
	"fmt"
)

var ErrInsufficient = errors.New("insufficient credits")

// InsufficientError reports the balance seen when the debit was refused.
type InsufficientError struct {
	Balance int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d", e.Balance)
}

func (e *InsufficientError) Is(target error) bool { return target == ErrInsufficient }
