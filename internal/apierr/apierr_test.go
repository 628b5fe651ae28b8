package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor_KnownCodes(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(CodeValidationError))
	assert.Equal(t, http.StatusNotFound, StatusFor(CodeNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(CodeModelFetchFailed))
	assert.Equal(t, http.StatusBadGateway, StatusFor(CodeSyncError))
}

func TestStatusFor_UnknownCodeDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor("SOMETHING_MADE_UP"))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(""))
}

func TestWrap_PreservesUnderlyingMessage(t *testing.T) {
	err := Wrap(CodeQueueError, errors.New("queue is full"))
	assert.Equal(t, "queue is full", err.Error())
	assert.Equal(t, CodeQueueError, err.Code)
}

func TestAs_RecognizesApierrAndRejectsPlainError(t *testing.T) {
	wrapped := New(CodeInternalError, "boom")
	got, ok := As(wrapped)
	assert.True(t, ok)
	assert.Same(t, wrapped, got)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}
