package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

func TestAppErrorUnwrapMatchesSentinel(t *testing.T) {
	err := domain.NewNotFoundError("binding_not_found", "binding 1 not found", "trace-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.False(t, errors.Is(err, domain.ErrValidation))

	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "binding_not_found", appErr.Code)
	assert.Equal(t, "trace-1", appErr.TraceID)
}

func TestAppErrorMessageFallsBackToKind(t *testing.T) {
	err := &domain.AppError{Kind: domain.ErrDatabaseInternal}
	assert.Equal(t, domain.ErrDatabaseInternal.Error(), err.Error())
}

func TestWrapUnexpectedPreservesMessage(t *testing.T) {
	original := errors.New("pool exhausted")
	err := domain.WrapUnexpected(original, "trace-2")
	assert.True(t, errors.Is(err, domain.ErrUnexpected))
	assert.Equal(t, "pool exhausted", err.Message)
}

func TestInvalidStepTransitionErrorCarriesContext(t *testing.T) {
	err := domain.InvalidStepTransitionError("verify_login", string(domain.BindingBound),
		[]string{string(domain.BindingOTPRequested)}, "trace-3")
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Equal(t, "binding_invalid_step_transition", err.Code)
	assert.Equal(t, "verify_login", err.Context["action"])
}
