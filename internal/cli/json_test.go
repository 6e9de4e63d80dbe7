package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineMode_DefaultValue(t *testing.T) {
	oldMode := machineMode
	defer func() { machineMode = oldMode }()

	machineMode = false
	assert.False(t, MachineMode())

	machineMode = true
	assert.True(t, MachineMode())
}

func TestWriteJSONSuccess(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONSuccess(&buf, map[string]int{"rows": 5}))

	var env JSONEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)

	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(5), data["rows"])
}

func TestWriteJSONFromError(t *testing.T) {
	var buf bytes.Buffer
	err := errors.New(errors.ErrTunnelStart, "Port 6820 is busy", "Pick another tunnel.local_port")
	require.NoError(t, WriteJSONFromError(&buf, err))

	var env JSONEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.ErrTunnelStart, env.Error.Code)
	assert.Equal(t, "Port 6820 is busy", env.Error.Message)
	assert.Equal(t, "Pick another tunnel.local_port", env.Error.Suggestion)
}

func TestErrorToJSON(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, ErrorToJSON(nil))
	})

	t.Run("plain error", func(t *testing.T) {
		got := ErrorToJSON(fmt.Errorf("boom"))
		assert.Equal(t, ErrCodeUnknown, got.Code)
		assert.Equal(t, "boom", got.Message)
		assert.Nil(t, got.Details)
	})

	t.Run("wrapped coded error", func(t *testing.T) {
		inner := errors.New(errors.ErrCredential, "No token in output", "Check credential.command")
		got := ErrorToJSON(fmt.Errorf("issuing: %w", inner))
		assert.Equal(t, errors.ErrCredential, got.Code)
		assert.Equal(t, "No token in output", got.Message)
	})

	t.Run("step error", func(t *testing.T) {
		err := errors.NewStepError(remote.StepPing, errors.New(errors.ErrConnectivity, "slurmrestd returned 503", ""))
		got := ErrorToJSON(err)
		assert.Equal(t, errors.ErrConnectivity, got.Code)
		assert.Equal(t, errorDetails{Step: remote.StepPing}, got.Details)
	})

	t.Run("cause", func(t *testing.T) {
		err := errors.WrapWithCode(fmt.Errorf("dial tcp: connection refused"), errors.ErrConnection, "Couldn't reach the gateway", "")
		got := ErrorToJSON(err)
		assert.Equal(t, errorDetails{Cause: "dial tcp: connection refused"}, got.Details)
	})
}

func TestWriteJSONFromError_Details(t *testing.T) {
	var buf bytes.Buffer
	err := errors.NewStepError(remote.StepCredential, errors.New(errors.ErrCredential, "No token in output", ""))
	require.NoError(t, WriteJSONFromError(&buf, err))
	assert.Contains(t, buf.String(), `"step": "credential"`)
	assert.NotContains(t, buf.String(), `"cause"`)
}
