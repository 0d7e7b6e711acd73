package errtaxonomy

import (
	"errors"
	"net/http"
	"testing"

	"github.com/luckygeck/dedalus/internal/state"
)

func TestForbiddenTransitionError(t *testing.T) {
	sm := state.NewTaskStateMachine()
	err := sm.ChangeState(state.TaskFinished, state.TaskRunning, false)
	if err == nil {
		t.Fatalf("expected forbidden transition")
	}

	te := ForbiddenTransitionError(err)
	if te.Code != CodeAppError {
		t.Errorf("expected app_error, got %s", te.Code)
	}
	if te.HTTPStatus != http.StatusConflict {
		t.Errorf("expected 409, got %d", te.HTTPStatus)
	}
	if !errors.Is(te, state.ErrForbiddenTransition) {
		t.Errorf("expected Unwrap to preserve the underlying ForbiddenTransition")
	}
}

func TestAs(t *testing.T) {
	err := BackendError("store unavailable", errors.New("dial tcp: timeout"))
	te, ok := As(err)
	if !ok {
		t.Fatalf("expected As to recognize *TaxonomyError")
	}
	if te.Code != CodeBackendError {
		t.Errorf("expected backend_error, got %s", te.Code)
	}

	if _, ok := As(errors.New("plain error")); ok {
		t.Errorf("expected As to reject a plain error")
	}
}
