package sshutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
	"github.com/slurmmon/slurmmon/pkg/sshutil/sshtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Execute(t *testing.T) {
	gw := sshtest.NewGateway(t, "alice", sshtest.WithPassword("s3cret"))
	gw.Handle("hostname", sshtest.Response{Stdout: "login01\n"})
	gw.Handle("squeue --me", sshtest.Response{Stdout: "JOBID\n", Stderr: "warning: slow\n"})
	gw.Handle("false", sshtest.Response{ExitCode: 1})

	log := logger.NewBufferLogger()
	exec := sshutil.NewExecutor(log)

	t.Run("stdout is trimmed", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), gw.Spec(), "hostname")
		require.NoError(t, err)
		assert.Equal(t, "login01", res.Stdout)
		assert.Equal(t, "", res.Stderr)
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("stderr is captured and warned", func(t *testing.T) {
		log.Clear()
		res, err := exec.Execute(context.Background(), gw.Spec(), "squeue --me")
		require.NoError(t, err)
		assert.Equal(t, "warning: slow", res.Stderr)
		assert.True(t, log.Contains("warn", "warning: slow"))
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), gw.Spec(), "false")
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
	})

	assert.Equal(t, []string{"hostname", "squeue --me", "false"}, gw.Commands())
}

func TestExecutor_NewConnectionPerCall(t *testing.T) {
	gw := sshtest.NewGateway(t, "alice", sshtest.WithPassword("s3cret"))
	gw.Handle("true", sshtest.Response{})

	exec := sshutil.NewExecutor(nil)
	for i := 0; i < 3; i++ {
		_, err := exec.Execute(context.Background(), gw.Spec(), "true")
		require.NoError(t, err)
	}

	assert.Equal(t, 3, gw.Connections())
}

func TestExecutor_KeyAuth(t *testing.T) {
	keyPath, pub := sshtest.WriteKey(t, t.TempDir())
	gw := sshtest.NewGateway(t, "alice", sshtest.WithAuthorizedKey(pub))
	gw.Handle("id -un", sshtest.Response{Stdout: "alice"})

	spec := gw.Spec()
	spec.KeyPath = keyPath

	res, err := sshutil.NewExecutor(nil).Execute(context.Background(), spec, "id -un")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Stdout)
}

func TestExecutor_WrongPassword(t *testing.T) {
	gw := sshtest.NewGateway(t, "alice", sshtest.WithPassword("s3cret"))

	spec := gw.Spec()
	spec.Password = "nope"

	_, err := sshutil.NewExecutor(nil).Execute(context.Background(), spec, "true")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnection))
	assert.Empty(t, gw.Commands())
}

func TestExecutor_CancelledContext(t *testing.T) {
	gw := sshtest.NewGateway(t, "alice", sshtest.WithPassword("s3cret"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	_, err := sshutil.NewExecutor(nil).Execute(ctx, gw.Spec(), "true")
	require.Error(t, err)
}
