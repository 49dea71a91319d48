package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingCloser struct {
	name  string
	order *[]string
	err   error
}

func (c *recordingCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestCloseAllReverseOrder(t *testing.T) {
	var order []string
	RegisterCloser(&recordingCloser{name: "store", order: &order})
	RegisterCloser(&recordingCloser{name: "queue", order: &order, err: errors.New("boom")})
	RegisterCloser(nil)

	assert.Equal(t, 1, CloseAll())
	assert.Equal(t, []string{"queue", "store"}, order)
	assert.Equal(t, 0, CloseAll(), "set is cleared")
}

func TestUserHome(t *testing.T) {
	assert.NotEmpty(t, UserHome())
}
