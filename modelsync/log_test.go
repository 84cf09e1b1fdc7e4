package modelsync

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestHandleError(t *testing.T) {
	handled := []error{}
	cleanups := 0
	r := HandleError(func() {
		panic(errors.New("store detached"))
	}, func() {
		cleanups += 1
	}, func(err error) {
		handled = append(handled, err)
	})
	assert.NotEqual(t, r, nil)
	assert.Equal(t, cleanups, 1)
	assert.Equal(t, len(handled), 1)
	assert.Equal(t, handled[0].Error(), "store detached")

	// no panic, no handlers
	cleanups = 0
	r = HandleError(func() {}, func() {
		cleanups += 1
	})
	assert.Equal(t, r, nil)
	assert.Equal(t, cleanups, 0)

	// a non-error panic value is wrapped for the handlers
	r = HandleError(func() {
		panic("short read")
	}, func(err error) {
		handled = append(handled, err)
	})
	assert.Equal(t, r, "short read")
	assert.Equal(t, handled[len(handled)-1].Error(), "short read")
}

func TestIsDoneError(t *testing.T) {
	assert.Equal(t, IsDoneError(errors.New("Done")), true)
	assert.Equal(t, IsDoneError("Done"), true)
	assert.Equal(t, IsDoneError(errors.New("short read")), false)
	assert.Equal(t, IsDoneError(42), false)
}
