package tunnel

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
)

// DefaultSSHBinary is the OpenSSH client used by ProcessForwarder.
const DefaultSSHBinary = "ssh"

// ProcessForwarder runs the forward as an `ssh -N -L` child process. It only
// supports key authentication since BatchMode rules out password prompts.
type ProcessForwarder struct {
	Binary string
	log    logger.Logger
}

// NewProcessForwarder creates a forwarder that runs binary (DefaultSSHBinary
// when empty).
func NewProcessForwarder(binary string, log logger.Logger) *ProcessForwarder {
	if binary == "" {
		binary = DefaultSSHBinary
	}
	if log == nil {
		log = logger.Noop()
	}
	return &ProcessForwarder{Binary: binary, log: log}
}

// Args builds the ssh argument list for spec.
func (f *ProcessForwarder) Args(spec Spec) []string {
	gw := spec.Gateway
	args := []string{
		"-N",
		"-L", fmt.Sprintf("%d:%s", spec.LocalPort, spec.RemoteAddress()),
		"-o", "ExitOnForwardFailure=yes",
		"-o", "BatchMode=yes",
	}
	if gw.Timeout > 0 {
		args = append(args, "-o", "ConnectTimeout="+strconv.Itoa(int(gw.Timeout.Seconds())))
	}
	if !gw.StrictHostKeyChecking {
		args = append(args, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	} else if gw.KnownHostsPath != "" {
		args = append(args, "-o", "UserKnownHostsFile="+gw.KnownHostsPath)
	}
	if gw.KeyPath != "" {
		args = append(args, "-i", gw.KeyPath)
	}
	if gw.Port != 0 {
		args = append(args, "-p", strconv.Itoa(gw.Port))
	}
	return append(args, gw.User+"@"+gw.Host)
}

// Open starts the ssh process. The process is not tied to ctx; it lives
// until the Manager stops it.
func (f *ProcessForwarder) Open(_ context.Context, spec Spec) (Handle, error) {
	if spec.Gateway.KeyPath == "" {
		return nil, errors.New(errors.ErrAuthConfig,
			"The process tunnel backend needs a private key",
			"Set gateway.key_path, or use tunnel.forwarder: native for password auth")
	}

	args := f.Args(spec)
	cmd := exec.Command(f.Binary, args...)
	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	cmd.Stderr = &h.stderr

	f.log.Debug("starting %s %s", f.Binary, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTunnelStart,
			fmt.Sprintf("Couldn't start %s", f.Binary),
			"Install the OpenSSH client or set tunnel.ssh_binary")
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type processHandle struct {
	cmd     *exec.Cmd
	stderr  lockedBuffer
	done    chan struct{}
	waitErr error
}

func (h *processHandle) Done() <-chan struct{} { return h.done }

func (h *processHandle) Detail() string {
	if out := strings.TrimSpace(h.stderr.String()); out != "" {
		return out
	}
	select {
	case <-h.done:
		if h.waitErr != nil {
			return h.waitErr.Error()
		}
		return "exited"
	default:
		return "running"
	}
}

func (h *processHandle) Terminate() error {
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *processHandle) Kill() error {
	return h.cmd.Process.Kill()
}

// lockedBuffer collects stderr written by the exec goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
