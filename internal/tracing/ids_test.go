package tracing

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var hex16 = regexp.MustCompile(`^[0-9a-f]{16}$`)

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Regexp(t, hex16, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
	p := NewPair()
	assert.NotEqual(t, p.TraceID, p.SpanID)
	assert.Equal(t, p.TraceID, p.Headers()["X-Trace-Id"])
}
