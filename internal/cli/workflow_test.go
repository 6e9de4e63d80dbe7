package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/slurmmon/slurmmon/internal/config"
	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/internal/remote"
	"github.com/slurmmon/slurmmon/internal/store"
	"github.com/slurmmon/slurmmon/pkg/sshutil/sshtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOpenAPI = `{"openapi":"3.0.2","info":{"title":"Slurm REST API","version":"0.0.38"},"paths":{"/slurm/v0.0.38/ping":{"get":{}}}}`

var slurmFixtures = map[string]string{
	"/slurm/v0.0.38/ping":         `{"pings":[{"hostname":"ctl","ping":"UP"}]}`,
	"/openapi.json":               testOpenAPI,
	"/slurm/v0.0.38/nodes":        `{"nodes":[{"name":"node01"},{"name":"node02"}]}`,
	"/slurm/v0.0.38/partitions":   `{"partitions":[{"name":"batch"}]}`,
	"/slurm/v0.0.38/jobs":         `{"jobs":[{"job_id":7,"name":"train"}]}`,
	"/slurm/v0.0.38/reservations": `{"reservations":[]}`,
	"/slurm/v0.0.38/diag":         `{"statistics":{"jobs_running":1}}`,
}

// newSlurmd serves slurmFixtures, answering 404 for any path in missing.
func newSlurmd(t *testing.T, missing ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-SLURM-USER-TOKEN") != "tok1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := slurmFixtures[r.URL.Path]
		if !ok || slices.Contains(missing, r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// gatewayConfig points a config at an in-process SSH gateway that forwards
// slurm:6820 to api.
func gatewayConfig(t *testing.T, api *httptest.Server) (*config.Config, *sshtest.Gateway) {
	t.Helper()
	gw := sshtest.NewGateway(t, "alice", sshtest.WithPassword("s3cret"))
	gw.Handle("scontrol token username=alice lifespan=3600", sshtest.Response{Stdout: "SLURM_JWT=tok1\n"})
	gw.Forward("slurm:6820", api.Listener.Addr().String())

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Gateway.Host = gw.Host
	cfg.Gateway.Port = gw.Port
	cfg.Gateway.User = "alice"
	cfg.Gateway.Password = "s3cret"
	cfg.Tunnel.Forwarder = "native"
	cfg.Tunnel.LocalPort = freePort(t)
	cfg.Tunnel.Grace = 20 * time.Millisecond
	cfg.OpenAPI.Path = filepath.Join(dir, "slurm_openapi.json")
	cfg.Store.Path = filepath.Join(dir, "slurm.db")
	return cfg, gw
}

func testOptions(t *testing.T) WorkflowOptions {
	return WorkflowOptions{
		Output:        io.Discard,
		SSHConfigPath: filepath.Join(t.TempDir(), "no_ssh_config"),
	}
}

func TestNewWorkflow_RequiresGateway(t *testing.T) {
	_, err := NewWorkflow(config.DefaultConfig(), config.Settings{}, nil, testOptions(t))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestNewWorkflow_LocalSkipsGateway(t *testing.T) {
	opts := testOptions(t)
	opts.Local = true
	wf, err := NewWorkflow(config.DefaultConfig(), config.Settings{}, nil, opts)
	require.NoError(t, err)
	defer wf.Close()
	assert.NotNil(t, wf.Log)
	assert.NotNil(t, wf.PhaseDisplay)
}

func TestNewWorkflow_GatewaySpec(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "login.example.edu"
	cfg.Gateway.User = "alice"
	cfg.Gateway.KeyPath = "/keys/id"

	wf, err := NewWorkflow(cfg, config.Settings{SSHPassword: "pw"}, nil, testOptions(t))
	require.NoError(t, err)
	defer wf.Close()

	assert.Equal(t, "login.example.edu", wf.Gateway.Host)
	assert.Equal(t, 22, wf.Gateway.Port)
	assert.Equal(t, "pw", wf.Gateway.Password)
	assert.Empty(t, wf.Gateway.KeyPath, "env password replaces the key")

	spec := wf.TunnelSpec()
	assert.Equal(t, "slurm", spec.RemoteHost)
	assert.Equal(t, 6820, spec.RemotePort)
	assert.Equal(t, 6820, spec.LocalPort)
}

func TestWorkflow_NewLoaderResourceOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Resources = []string{"nodes", "jobs"}
	cfg.Store.Path = filepath.Join(t.TempDir(), "slurm.db")

	opts := testOptions(t)
	opts.Local = true

	wf, err := NewWorkflow(cfg, config.Settings{}, nil, opts)
	require.NoError(t, err)
	defer wf.Close()
	loader, err := wf.NewLoader()
	require.NoError(t, err)
	require.Len(t, loader.Resources, 2)
	assert.Equal(t, "nodes", loader.Resources[0].Name)

	opts.Resources = []string{"diag"}
	wf2, err := NewWorkflow(cfg, config.Settings{}, nil, opts)
	require.NoError(t, err)
	defer wf2.Close()
	loader, err = wf2.NewLoader()
	require.NoError(t, err)
	require.Len(t, loader.Resources, 1)
	assert.Equal(t, "diag", loader.Resources[0].Name)

	opts.Resources = []string{"bogus"}
	wf3, err := NewWorkflow(cfg, config.Settings{}, nil, opts)
	require.NoError(t, err)
	defer wf3.Close()
	_, err = wf3.NewLoader()
	assert.Error(t, err)
}

func TestWorkflow_OpenStoreIsCached(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "slurm.db")
	opts := testOptions(t)
	opts.Local = true

	wf, err := NewWorkflow(cfg, config.Settings{}, nil, opts)
	require.NoError(t, err)
	first, err := wf.OpenStore()
	require.NoError(t, err)
	second, err := wf.OpenStore()
	require.NoError(t, err)
	assert.Same(t, first, second)
	wf.Close()
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New(errors.ErrTunnelStart, "x", ""), true},
		{errors.New(errors.ErrConnection, "x", ""), true},
		{errors.NewStepError("Pinging slurmrestd", errors.New(errors.ErrConnectivity, "x", "")), true},
		{errors.New(errors.ErrCredential, "x", ""), false},
		{errors.New(errors.ErrLoad, "x", ""), false},
		{fmt.Errorf("plain"), false},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, isTransient(tc.err))
		})
	}
}

func TestRunWithRetry(t *testing.T) {
	old := RetryBase
	RetryBase = time.Millisecond
	defer func() { RetryBase = old }()

	ctx := context.Background()

	t.Run("retries transient failures", func(t *testing.T) {
		log := logger.NewBufferLogger()
		calls := 0
		got, err := runWithRetry(ctx, 3, log, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New(errors.ErrTunnelStart, "tunnel refused", "")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
		assert.True(t, log.Contains("warn", "attempt 1 of 4 failed"))
	})

	t.Run("gives up after the limit", func(t *testing.T) {
		calls := 0
		_, err := runWithRetry(ctx, 2, logger.Noop(), func(context.Context) (int, error) {
			calls++
			return 0, errors.New(errors.ErrConnectivity, "ping failed", "")
		})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConnectivity))
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other failures", func(t *testing.T) {
		calls := 0
		_, err := runWithRetry(ctx, 5, logger.Noop(), func(context.Context) (int, error) {
			calls++
			return 0, errors.New(errors.ErrCredential, "bad token", "")
		})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCredential))
		assert.Equal(t, 1, calls)
	})

	t.Run("zero retries calls once", func(t *testing.T) {
		calls := 0
		_, err := runWithRetry(ctx, 0, logger.Noop(), func(context.Context) (int, error) {
			calls++
			return 0, errors.New(errors.ErrTunnelStart, "x", "")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestWorkflow_RunThroughGateway(t *testing.T) {
	api := newSlurmd(t)
	cfg, gw := gatewayConfig(t, api)

	wf, err := NewWorkflow(cfg, config.Settings{}, logger.NewBufferLogger(), testOptions(t))
	require.NoError(t, err)
	defer wf.Close()

	info, err := wf.Run(context.Background(), 30*time.Second, 0)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"nodes": 2, "partitions": 1, "jobs": 1, "reservations": 0, "diag": 1,
	}, info.Tables)
	assert.Equal(t, cfg.Store.Path, info.Destination)
	assert.Equal(t, cfg.OpenAPI.Path, wf.SpecPath)

	data, err := os.ReadFile(cfg.OpenAPI.Path)
	require.NoError(t, err)
	assert.Equal(t, testOpenAPI, string(data))

	st, err := wf.OpenStore()
	require.NoError(t, err)
	runs, err := st.Runs(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunSucceeded, runs[0].Status)

	assert.Equal(t, []string{"scontrol token username=alice lifespan=3600"}, gw.Commands())

	var out bytes.Buffer
	require.NoError(t, reportLoad(&out, wf, info, true))
	assert.Contains(t, out.String(), `"rows": 5`)
	assert.Contains(t, out.String(), `"openapi_path"`)
}

func TestWorkflow_RunClearsPreviousSpecPath(t *testing.T) {
	api := newSlurmd(t, "/openapi.json")
	cfg, _ := gatewayConfig(t, api)

	wf, err := NewWorkflow(cfg, config.Settings{}, logger.NewBufferLogger(), testOptions(t))
	require.NoError(t, err)
	defer wf.Close()
	wf.SpecPath = filepath.Join(t.TempDir(), "earlier_openapi.json")

	info, err := wf.Run(context.Background(), 30*time.Second, 0)
	require.NoError(t, err)
	assert.Empty(t, wf.SpecPath)

	var out bytes.Buffer
	require.NoError(t, reportLoad(&out, wf, info, true))
	assert.NotContains(t, out.String(), `"openapi_path"`)
}

func TestWorkflow_ProbeSkipsLoad(t *testing.T) {
	api := newSlurmd(t)
	cfg, _ := gatewayConfig(t, api)

	opts := testOptions(t)
	opts.SkipOpenAPI = true
	wf, err := NewWorkflow(cfg, config.Settings{}, nil, opts)
	require.NoError(t, err)
	defer wf.Close()

	require.NoError(t, wf.Probe(context.Background(), 30*time.Second))
	assert.Empty(t, wf.SpecPath)
	_, err = os.Stat(cfg.OpenAPI.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(cfg.Store.Path)
	assert.True(t, os.IsNotExist(err), "ping should not open the store")
}

func TestWorkflow_RunLocal(t *testing.T) {
	api := newSlurmd(t)
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "slurm.db")

	opts := testOptions(t)
	opts.Local = true
	opts.Resources = []string{"nodes"}
	wf, err := NewWorkflow(cfg, config.Settings{}, nil, opts)
	require.NoError(t, err)
	defer wf.Close()

	info, err := wf.RunLocal(context.Background(), 0, remote.OperationContext{
		BaseURL: api.URL, Principal: "alice", Token: "tok1",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"nodes": 2}, info.Tables)
}

func TestWorkflow_RunLocalFailureNamesStep(t *testing.T) {
	api := newSlurmd(t)
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "slurm.db")

	opts := testOptions(t)
	opts.Local = true
	wf, err := NewWorkflow(cfg, config.Settings{}, nil, opts)
	require.NoError(t, err)
	defer wf.Close()

	_, err = wf.RunLocal(context.Background(), 0, remote.OperationContext{
		BaseURL: api.URL, Principal: "alice", Token: "wrong",
	})
	require.Error(t, err)
	step, ok := errors.StepOf(err)
	require.True(t, ok)
	assert.Equal(t, remote.StepLoad, step)
}
