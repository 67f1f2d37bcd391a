package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/repository"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", Errorf(KindUnsupportedType, "dispatch", "no workflow"), KindUnsupportedType},
		{"wrapped typed", fmt.Errorf("outer: %w", Wrap(KindInvalidState, "allocate", io.EOF)), KindInvalidState},
		{"not found", fmt.Errorf("get: %w", repository.ErrNotFound), KindNotFound},
		{"conflict", repository.ErrConflict, KindConflict},
		{"duplicate", repository.ErrAlreadyExists, KindConflict},
		{"other", io.ErrUnexpectedEOF, KindCollaboratorFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := Wrap(KindCollaboratorFailure, "notify", errors.New("topic down"))
	if got := err.Error(); got != "notify: COLLABORATOR_FAILURE: topic down" {
		t.Errorf("unexpected message: %s", got)
	}
	if !errors.Is(err, err.Err) {
		t.Error("expected Unwrap to expose cause")
	}
}

type recordingWriter struct {
	id     string
	patch  models.EmergencyPatch
	expect []models.Status
	err    error
}

func (w *recordingWriter) UpdateEmergency(ctx context.Context, id string, patch models.EmergencyPatch, expect ...models.Status) error {
	w.id = id
	w.patch = patch
	w.expect = expect
	return w.err
}

func TestRecordFailure(t *testing.T) {
	w := &recordingWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	RecordFailure(context.Background(), w, "em-1", models.StatusAssessmentError, errors.New("model timeout"), logger, models.StatusAssessing)

	if w.id != "em-1" {
		t.Errorf("expected em-1, got %s", w.id)
	}
	if w.patch.Status == nil || *w.patch.Status != models.StatusAssessmentError {
		t.Errorf("expected ASSESSMENT_ERROR patch, got %+v", w.patch.Status)
	}
	if w.patch.ErrorMessage == nil || *w.patch.ErrorMessage != "model timeout" {
		t.Errorf("unexpected error message: %v", w.patch.ErrorMessage)
	}
	if len(w.expect) != 1 || w.expect[0] != models.StatusAssessing {
		t.Errorf("expected condition on ASSESSING, got %v", w.expect)
	}
}

func TestRecordFailure_SwallowsWriteError(t *testing.T) {
	w := &recordingWriter{err: repository.ErrConflict}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Must not panic or propagate.
	RecordFailure(context.Background(), w, "em-2", models.StatusReportError, errors.New("boom"), logger)
}

func TestRecordFailure_MessageOnly(t *testing.T) {
	w := &recordingWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	RecordFailure(context.Background(), w, "em-3", "", errors.New("topic down"), logger)

	if w.patch.Status != nil {
		t.Errorf("expected no status change, got %s", *w.patch.Status)
	}
	if w.patch.ErrorMessage == nil || *w.patch.ErrorMessage != "topic down" {
		t.Errorf("unexpected error message: %v", w.patch.ErrorMessage)
	}
}
