package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("execute order: %w", Validation("notional must be positive"))

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrPriceUnavailable))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestWithLimitCarriesBound(t *testing.T) {
	err := WithLimit(KindCreditLimitExceeded, "loan exceeds credit limit", decimal.NewFromInt(1800))

	limit, ok := LimitOf(err)
	require.True(t, ok)
	assert.True(t, limit.Equal(decimal.NewFromInt(1800)))
	assert.ErrorIs(t, err, ErrCreditLimitExceeded)
}

func TestPersistenceWrapsOnlyUntypedErrors(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence("update account", cause)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to update account: connection reset", err.Error())

	typed := ErrOrderNotPending
	assert.Same(t, typed, Persistence("update order", typed))
	assert.NoError(t, Persistence("noop", nil))
	assert.Equal(t, Kind(""), KindOf(cause))
}
