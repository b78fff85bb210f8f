package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsIdentity(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("join: %w", Wrap(ErrPersistenceUnavailable, cause))

	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, "PERSISTENCE_UNAVAILABLE", CodeOf(err))
	assert.Equal(t, "storage is unavailable", MessageOf(err))
}

func TestDetail(t *testing.T) {
	err := Detail(ErrInvalidRoundNumber, "expected round %d, got %d", 2, 3)

	assert.ErrorIs(t, err, ErrInvalidRoundNumber)
	assert.Equal(t, "expected round 2, got 3", err.Error())
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestForeignErrors(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "INTERNAL", CodeOf(err))
	assert.Equal(t, "internal server error", MessageOf(err))
}
