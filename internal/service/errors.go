package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id string, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id.String(), "job")
}

func NewErrUserNotFound(username string) *ErrResourceNotFound {
	return NewErrResourceNotFound(username, "user")
}

type ErrJobAccessForbidden struct {
	error
}

func NewErrJobAccessForbidden(id uuid.UUID) *ErrJobAccessForbidden {
	return &ErrJobAccessForbidden{fmt.Errorf("forbidden to access job %s", id)}
}

type ErrValidation struct {
	error
}

func NewErrValidation(format string, args ...any) *ErrValidation {
	return &ErrValidation{fmt.Errorf(format, args...)}
}

type ErrJobInvalidState struct {
	error
}

func NewErrJobInvalidState(id uuid.UUID, status fmt.Stringer) *ErrJobInvalidState {
	return &ErrJobInvalidState{fmt.Errorf("job %s is %s", id, status)}
}
