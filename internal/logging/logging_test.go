package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatter_RendersLevelAndMessage(t *testing.T) {
	f := &Formatter{}
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Message: "probe failed\r\n",
		Level:   log.ErrorLevel,
		Data:    log.Fields{"channel": "c1"},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	line := string(out)
	assert.Contains(t, line, "[ERROR]")
	assert.Contains(t, line, "probe failed")
	assert.Contains(t, line, "channel=c1")
	assert.NotContains(t, line, "\r")
}

func TestFormatter_ReusesExistingBuffer(t *testing.T) {
	f := &Formatter{}
	buf := &bytes.Buffer{}
	buf.WriteString("prefix:")
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Buffer:  buf,
		Message: "hi",
		Level:   log.InfoLevel,
		Data:    log.Fields{},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "prefix:[")
}

func TestEnableFileOutput_CreatesDirAndRotatingFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, EnableFileOutput(dir))
	t.Cleanup(closeOutputs)

	_, err := os.Stat(dir)
	require.NoError(t, err)

	log.Info("hello from test")
	_, err = os.Stat(filepath.Join(dir, "detection-engine.log"))
	assert.NoError(t, err)
}

func TestEnableFileOutput_DefaultsDirWhenEmpty(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	defaultDir := filepath.Join(wd, "logs")
	t.Cleanup(func() {
		closeOutputs()
		os.RemoveAll(defaultDir)
	})

	require.NoError(t, EnableFileOutput(""))
	_, err = os.Stat(defaultDir)
	require.NoError(t, err)
}
