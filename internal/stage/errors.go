// Package stage carries the error vocabulary shared by every lifecycle stage.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/repository"
)

type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindUnsupportedType     Kind = "UNSUPPORTED_TYPE"
	KindCollaboratorFailure Kind = "COLLABORATOR_FAILURE"
	KindConflict            Kind = "CONFLICT"
	KindInvalidState        Kind = "INVALID_STATE"
	KindInvalidInput        Kind = "INVALID_INPUT"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies any error. Repository sentinels map to their kinds and
// unclassified errors count as collaborator failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrAlreadyExists):
		return KindConflict
	}
	return KindCollaboratorFailure
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// StatusWriter is the slice of the emergency store needed to record a failure.
type StatusWriter interface {
	UpdateEmergency(ctx context.Context, id string, patch models.EmergencyPatch, expect ...models.Status) error
}

// RecordFailure writes the stage's error status and message, conditional on
// the record still holding one of expect. Stages without an error status pass
// "" and only the message is written. A failed write is logged, never
// returned: the caller is already reporting cause.
func RecordFailure(ctx context.Context, store StatusWriter, id string, errStatus models.Status, cause error, logger *slog.Logger, expect ...models.Status) {
	patch := models.EmergencyPatch{
		ErrorMessage: models.Ptr(cause.Error()),
	}
	if errStatus != "" {
		patch.Status = models.Ptr(errStatus)
	}
	if err := store.UpdateEmergency(ctx, id, patch, expect...); err != nil {
		logger.Error("failed to record stage error",
			"error_status", errStatus,
			"cause", cause,
			"error", err,
		)
	}
}
