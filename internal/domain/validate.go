package domain

import (
	"fmt"
	"strings"

	validation "github.com/jellydator/validation"
)

// CheckField rejects a blank value or one longer than max bytes with
// ErrInvalidFormat. Services call it after their authorization and pause
// gates so those failures take precedence.
func CheckField(name, value string, max int) error {
	err := validation.Validate(strings.TrimSpace(value),
		validation.Required.Error("is required"),
		validation.Length(1, max).Error(fmt.Sprintf("must be at most %d bytes", max)),
	)
	if err != nil {
		return fmt.Errorf("%w: %s %v", ErrInvalidFormat, name, err)
	}
	return nil
}
