package rtc

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestLoggerFactoryWritesToZerolog(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	l := NewLoggerFactory().NewLogger("ice")
	l.Warnf("candidate %d dropped", 3)

	require.Contains(t, buf.String(), `"scope":"ice"`)
	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), "candidate 3 dropped")
}
