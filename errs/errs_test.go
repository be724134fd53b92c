package errs_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/0m3kk/library/errs"
)

func TestNotFound(t *testing.T) {
	err := fmt.Errorf("load reservation: %w", errs.NotFound("reservation", 42))

	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.NotErrorIs(t, err, errs.ErrConflict)
	assert.EqualError(t, err, "load reservation: reservation 42 not found")

	var nf *errs.NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "42", nf.ID)
}

func TestConflict(t *testing.T) {
	err := errs.Conflict("book %s is already borrowed", "abc")
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.EqualError(t, err, "book abc is already borrowed")

	wrapped := &errs.ConflictError{Msg: "duplicate", Err: context.Canceled}
	assert.ErrorIs(t, wrapped, context.Canceled)
}

func TestDeliveryFault(t *testing.T) {
	cause := errors.New("broker unreachable")
	err := &errs.DeliveryFault{EventID: "e1", EventType: "BookBorrowed", Err: cause}

	assert.ErrorIs(t, err, errs.ErrDeliveryFault)
	assert.ErrorIs(t, err, cause)
}

func TestTransient(t *testing.T) {
	assert.NoError(t, errs.Transient("op", nil))

	err := errs.Transient("adjust copies", errors.New("connection reset"))
	assert.ErrorIs(t, err, errs.ErrTransientStorage)
	assert.False(t, errs.IsPermanent(err))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, errs.IsPermanent(errs.NotFound("book", "x")))
	assert.True(t, errs.IsPermanent(fmt.Errorf("wrap: %w", errs.Conflict("dup"))))
	assert.False(t, errs.IsPermanent(errors.New("boom")))
}
