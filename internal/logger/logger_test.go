package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkWritesJSONWithModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := Module(New(path, true), "connection")
	log.Info("connection requested")
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(strings.Split(string(raw), "\n")[0])
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "connection requested", entry["message"])
	assert.Equal(t, "connection", entry["module"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestModuleToleratesNil(t *testing.T) {
	assert.NotNil(t, Module(nil, "x"))
}
