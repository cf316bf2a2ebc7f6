package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendClassification(t *testing.T) {
	assert.Nil(t, Backend(nil))

	timeout := Backend(fmt.Errorf("query: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, timeout, ErrTimeout)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	down := Backend(errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, down, ErrBackendUnavailable)
	assert.Equal(t, "backend unavailable", Message(down))

	notFound := Backend(ErrNotFound)
	assert.Same(t, ErrNotFound, notFound)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		ErrAuthRequired:                 http.StatusUnauthorized,
		ErrInvalidCredentials:           http.StatusUnauthorized,
		ErrForbidden:                    http.StatusForbidden,
		ErrNotFound:                     http.StatusNotFound,
		ErrInvalidTransition:            http.StatusConflict,
		ErrDuplicateRequest:             http.StatusConflict,
		Invalid("content is empty"):     http.StatusBadRequest,
		ErrTimeout:                      http.StatusGatewayTimeout,
		Backend(errors.New("refused")):  http.StatusServiceUnavailable,
		errors.New("something strange"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestMessageHidesUnknownCauses(t *testing.T) {
	assert.Equal(t, "internal error", Message(errors.New("pq: relation does not exist")))
	assert.Equal(t, "invalid input: content is empty", Message(Invalid("content is empty")))
}
