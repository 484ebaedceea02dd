package service

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorStatus(t *testing.T) {
	tests := map[ErrorKind]int{
		KindInvalidInput:          http.StatusBadRequest,
		KindAlreadyRegistered:     http.StatusBadRequest,
		KindTooManyAttempts:       http.StatusBadRequest,
		KindUnsupportedChannel:    http.StatusBadRequest,
		KindInvalidCode:           http.StatusBadRequest,
		KindCodeExpired:           http.StatusBadRequest,
		KindInvalidCredentials:    http.StatusBadRequest,
		KindInvalidOrExpiredToken: http.StatusBadRequest,
		KindPasswordMismatch:      http.StatusBadRequest,
		KindNotFound:              http.StatusNotFound,
		KindUnauthenticated:       http.StatusUnauthorized,
		KindDeliveryFailed:        http.StatusInternalServerError,
		KindInternal:              http.StatusInternalServerError,
	}
	for kind, status := range tests {
		require.Equal(t, status, newError(kind, "x").Status(), kind)
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	cause := errors.New("ResourceNotFoundException: table missing")
	err := internalError(cause)

	require.Equal(t, "Internal server error.", err.PublicMessage())
	require.ErrorIs(t, err, cause)
	require.Equal(t, KindInternal, KindOf(fmt.Errorf("handler: %w", err)))
	require.Equal(t, KindInternal, KindOf(errors.New("plain")))
}
