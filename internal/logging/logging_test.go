package logging

import (
	"bytes"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestInitWithWriter(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, true)
	t.Cleanup(func() { InitWithWriter(io.Discard, false) })

	assert.True(t, DebugEnabled())
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
	assert.Same(t, &buf, DebugWriter())

	log.Debug().Str("run_id", "r1").Msg("hello")
	assert.Contains(t, buf.String(), "hello")

	InitWithWriter(&buf, false)
	assert.False(t, DebugEnabled())
	assert.Equal(t, io.Discard, DebugWriter())
}
