package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientOrderID(t *testing.T) {
	a := ClientOrderID("SL")
	b := ClientOrderID("SL")

	assert.True(t, strings.HasPrefix(a, "sl-"))
	assert.LessOrEqual(t, len(a), 36)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "ids generated in sequence sort in sequence")
}
