package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ErrInvalidForm struct {
	error
}

// NewErrInvalidForm turns validation failures into a message naming each field and the rule it broke.
func NewErrInvalidForm(err error) *ErrInvalidForm {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ErrInvalidForm{err}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed on '%s=%s'", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return &ErrInvalidForm{errors.New(strings.Join(msgs, "; "))}
}
