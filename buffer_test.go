package fdio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferLimitClampsToMaxRW(t *testing.T) {
	assert.Equal(t, maxRW, BufferLimit(maxRW+1))
	assert.Equal(t, maxRW, BufferLimit(maxRW))
	assert.Equal(t, 0, BufferLimit(0))
	assert.Equal(t, 1024, BufferLimit(1024))
}
