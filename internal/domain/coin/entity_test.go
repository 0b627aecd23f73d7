package coin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linguaquest/progression/internal/domain/shared"
)

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("reward", "u1", "vocab_100")
	b := IdempotencyKey("reward", "u1", "vocab_100")
	c := IdempotencyKey("reward", "u1vocab", "_100")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestEntryValidate(t *testing.T) {
	assert.NoError(t, Entry{UserID: "u1", Delta: 5, IdempotencyKey: "k"}.Validate())
	assert.True(t, shared.IsValidation(Entry{UserID: "", Delta: 5, IdempotencyKey: "k"}.Validate()))
	assert.True(t, shared.IsValidation(Entry{UserID: "u1", Delta: 0, IdempotencyKey: "k"}.Validate()))
	assert.True(t, shared.IsValidation(Entry{UserID: "u1", Delta: 1}.Validate()))
}

func TestInsufficientFundsIsValidation(t *testing.T) {
	err := InsufficientFunds("Debit")
	assert.True(t, shared.IsValidation(err))
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
}
