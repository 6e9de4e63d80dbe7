package remote_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/slurmmon/slurmmon/internal/credential"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/internal/remote"
	"github.com/slurmmon/slurmmon/internal/slurmapi"
	"github.com/slurmmon/slurmmon/internal/tunnel"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
	"github.com/slurmmon/slurmmon/pkg/sshutil/sshtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIBody = `{"openapi":"3.0.2","info":{"title":"Slurm REST API","version":"0.0.38"},"paths":{"/slurm/v0.0.38/ping":{"get":{}}}}`

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestRun_EndToEnd(t *testing.T) {
	var mu sync.Mutex
	var tokens []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.Header.Get(slurmapi.HeaderUserToken))
		mu.Unlock()
		switch r.URL.Path {
		case "/slurm/v0.0.38/ping":
			w.Write([]byte(`{"pings":[{"hostname":"ctl","ping":"UP"}]}`))
		case "/openapi.json":
			w.Write([]byte(openAPIBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer api.Close()

	gw := sshtest.NewGateway(t, "alice", sshtest.WithPassword("s3cret"))
	gw.Handle("scontrol token username=alice lifespan=3600", sshtest.Response{Stdout: "SLURM_JWT=tok1\n"})
	gw.Forward("slurm:6820", api.Listener.Addr().String())

	log := logger.NewBufferLogger()
	spec := tunnel.Spec{Gateway: gw.Spec(), RemoteHost: "slurm", RemotePort: 6820, LocalPort: freePort(t)}
	mgr := tunnel.NewManager(spec, tunnel.NewNativeForwarder(nil, log), log, tunnel.Options{Grace: 20 * time.Millisecond})
	issuer := credential.NewIssuer(sshutil.NewExecutor(log), spec.Gateway, "", log)

	specPath := filepath.Join(t.TempDir(), "slurm_openapi.json")
	var loadCtx remote.OperationContext
	orch := &remote.Orchestrator[string]{
		Tunnel:    mgr,
		Issuer:    issuer,
		Probe:     slurmapi.PingOperation(slurmapi.Options{Log: log}),
		SpecFetch: slurmapi.OpenAPIOperation(specPath, true, slurmapi.Options{Log: log}),
		Load: remote.OperationFunc[string](func(_ context.Context, oc remote.OperationContext) (string, error) {
			loadCtx = oc
			return "stub-load-result", nil
		}),
		Log: log,
	}

	got, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stub-load-result", got)
	assert.Equal(t, remote.StateLoaded, orch.State())

	assert.Equal(t, remote.OperationContext{BaseURL: spec.BaseURL(), Principal: "alice", Token: "tok1"}, loadCtx)

	data, err := os.ReadFile(specPath)
	require.NoError(t, err)
	assert.Equal(t, openAPIBody, string(data))

	mu.Lock()
	assert.Equal(t, []string{"tok1", "tok1"}, tokens)
	mu.Unlock()

	assert.False(t, mgr.IsRunning())
	assert.Equal(t, []string{"scontrol token username=alice lifespan=3600"}, gw.Commands())
}

func TestRun_EndToEndPingFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer api.Close()

	gw := sshtest.NewGateway(t, "alice", sshtest.WithPassword("s3cret"))
	gw.Handle("scontrol token username=alice lifespan=3600", sshtest.Response{Stdout: "SLURM_JWT=tok1"})
	gw.Forward("slurm:6820", api.Listener.Addr().String())

	spec := tunnel.Spec{Gateway: gw.Spec(), RemoteHost: "slurm", RemotePort: 6820, LocalPort: freePort(t)}
	mgr := tunnel.NewManager(spec, tunnel.NewNativeForwarder(nil, nil), nil, tunnel.Options{Grace: 20 * time.Millisecond})

	loaded := false
	orch := &remote.Orchestrator[string]{
		Tunnel: mgr,
		Issuer: credential.NewIssuer(sshutil.NewExecutor(nil), spec.Gateway, "", nil),
		Probe:  slurmapi.PingOperation(slurmapi.Options{}),
		Load: remote.OperationFunc[string](func(context.Context, remote.OperationContext) (string, error) {
			loaded = true
			return "", nil
		}),
	}

	_, err := orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.False(t, loaded)
	assert.False(t, mgr.IsRunning())
}
