package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
)

// NativeForwarder forwards in-process over an x/crypto/ssh connection. Each
// accepted local connection gets its own direct-tcpip channel.
type NativeForwarder struct {
	connect sshutil.Connector
	log     logger.Logger
}

// NewNativeForwarder creates a forwarder that dials gateways with connect
// (sshutil.DialConn when nil).
func NewNativeForwarder(connect sshutil.Connector, log logger.Logger) *NativeForwarder {
	if connect == nil {
		connect = sshutil.DialConn
	}
	if log == nil {
		log = logger.Noop()
	}
	return &NativeForwarder{connect: connect, log: log}
}

// Open connects to the gateway and starts listening on the local port.
func (f *NativeForwarder) Open(ctx context.Context, spec Spec) (Handle, error) {
	conn, err := f.connect(ctx, spec.Gateway)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", spec.LocalAddress())
	if err != nil {
		conn.Close()
		return nil, errors.WrapWithCode(err, errors.ErrTunnelStart,
			fmt.Sprintf("Can't listen on %s", spec.LocalAddress()),
			fmt.Sprintf("Another process may hold port %d. Pick a different tunnel.local_port.", spec.LocalPort))
	}

	h := &nativeHandle{
		conn:   conn,
		ln:     ln,
		remote: spec.RemoteAddress(),
		log:    f.log,
		done:   make(chan struct{}),
		active: make(map[net.Conn]struct{}),
	}
	go h.acceptLoop()
	go func() {
		err := conn.Wait()
		h.shutdown(fmt.Sprintf("ssh connection closed: %v", err))
	}()
	return h, nil
}

type nativeHandle struct {
	conn   sshutil.Conn
	ln     net.Listener
	remote string
	log    logger.Logger

	mu      sync.Mutex
	detail  string
	active  map[net.Conn]struct{}
	once    sync.Once
	done    chan struct{}
	closing bool
}

func (h *nativeHandle) Done() <-chan struct{} { return h.done }

func (h *nativeHandle) Detail() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detail == "" {
		return "running"
	}
	return h.detail
}

func (h *nativeHandle) Terminate() error {
	h.shutdown("stopped")
	return nil
}

func (h *nativeHandle) Kill() error {
	return h.Terminate()
}

// shutdown closes the listener, the SSH connection and every forwarded
// connection. The first reason wins.
func (h *nativeHandle) shutdown(reason string) {
	h.once.Do(func() {
		h.mu.Lock()
		h.closing = true
		h.detail = reason
		conns := make([]net.Conn, 0, len(h.active))
		for c := range h.active {
			conns = append(conns, c)
		}
		h.mu.Unlock()

		h.ln.Close()
		for _, c := range conns {
			c.Close()
		}
		h.conn.Close()
		close(h.done)
	})
}

func (h *nativeHandle) acceptLoop() {
	for {
		local, err := h.ln.Accept()
		if err != nil {
			h.mu.Lock()
			closing := h.closing
			h.mu.Unlock()
			if !closing {
				h.shutdown(fmt.Sprintf("accept failed: %v", err))
			}
			return
		}
		go h.forward(local)
	}
}

func (h *nativeHandle) forward(local net.Conn) {
	defer local.Close()

	remote, err := h.conn.Dial("tcp", h.remote)
	if err != nil {
		h.log.Warn("forward to %s failed: %v", h.remote, err)
		return
	}
	defer remote.Close()

	if !h.track(local, remote) {
		return
	}
	defer h.untrack(local, remote)

	bidirectionalCopy(local, remote)
}

func (h *nativeHandle) track(conns ...net.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	for _, c := range conns {
		h.active[c] = struct{}{}
	}
	return true
}

func (h *nativeHandle) untrack(conns ...net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range conns {
		delete(h.active, c)
	}
}

// bidirectionalCopy copies in both directions until one side finishes.
func bidirectionalCopy(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
}
