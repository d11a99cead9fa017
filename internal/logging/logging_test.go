package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Console(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	require.NoError(t, Init(Options{Out: &buf}))
	log.Debug().Msg("hidden")
	log.Info().Str("bug", "15").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "bug=15")
}

func TestInit_VerboseWithFile(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Verbose: true, Dir: dir, Out: &buf}))
	log.Debug().Msg("debug line")

	assert.Contains(t, buf.String(), "debug line")
	data, err := os.ReadFile(filepath.Join(dir, "buggy.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"debug line"`)
}
