package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GSQLCore/config"
)

func TestSetup(t *testing.T) {
	prevOut, prevLevel, prevFormatter := log.StandardLogger().Out, log.GetLevel(), log.StandardLogger().Formatter
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetLevel(prevLevel)
		log.SetFormatter(prevFormatter)
	})

	path := filepath.Join(t.TempDir(), "gsql.log")
	closer, err := Setup(config.LogConfig{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	log.WithField("page", 3).Debug("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"page":3`)

	closer, err = Setup(config.LogConfig{})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, log.InfoLevel, log.GetLevel())

	_, err = Setup(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = Setup(config.LogConfig{Format: "xml"})
	assert.Error(t, err)
}
