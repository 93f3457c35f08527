package adapter

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "covtrace.dev/pkg/covtrace/internal/model"
)

func requireShell(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExitEvents(t *testing.T) {
	assert.Equal(t, []m.Event{{Type: m.EventExit}}, exitEvents(nil))
	assert.Equal(t, []m.Event{{Type: m.EventError, Data: -1}}, exitEvents(errors.New("wait failed")))
}

func TestExitEvents_FromProcess(t *testing.T) {
	requireShell(t)

	err := exec.Command("sh", "-c", "exit 4").Run()
	require.Error(t, err)
	assert.Equal(t, []m.Event{{Type: m.EventExit, Data: 4}}, exitEvents(err))

	err = exec.Command("sh", "-c", "kill -TERM $$").Run()
	require.Error(t, err)
	assert.Equal(t, []m.Event{
		{Type: m.EventSignal, Data: 15},
		{Type: m.EventExit, Data: 128 + 15},
	}, exitEvents(err))
}

func TestBackendConfig_Defaults(t *testing.T) {
	cfg := BackendConfig{}.withDefaults()

	assert.NotNil(t, cfg.Fs)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.NotNil(t, cfg.Stdout)
}
