package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStop_NotRunning(t *testing.T) {
	setupProject(t)

	out, err := executeCommand(t, "stop")

	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}
