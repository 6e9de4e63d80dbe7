// Package sshtest provides an in-process SSH gateway for tests. It accepts
// password or public key auth, answers exec requests from canned responses,
// and serves direct-tcpip channels so local forwards can be exercised
// without a real sshd.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/slurmmon/slurmmon/pkg/sshutil"
	"golang.org/x/crypto/ssh"
)

// Response is a canned reply to an exec request.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Gateway is a minimal SSH server bound to 127.0.0.1.
type Gateway struct {
	Host string
	Port int
	User string

	password      string
	authorizedKey ssh.PublicKey
	listener      net.Listener

	mu          sync.Mutex
	responses   map[string]Response
	commands    []string
	forwards    map[string]string
	connections int
	conns       []net.Conn
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPassword accepts password auth for the gateway user.
func WithPassword(password string) Option {
	return func(g *Gateway) { g.password = password }
}

// WithAuthorizedKey accepts public key auth with key.
func WithAuthorizedKey(key ssh.PublicKey) Option {
	return func(g *Gateway) { g.authorizedKey = key }
}

// NewGateway starts a gateway for user and stops it when the test ends.
func NewGateway(t testing.TB, user string, opts ...Option) *Gateway {
	t.Helper()

	g := &Gateway{
		User:      user,
		responses: make(map[string]Response),
		forwards:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(g)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if g.password != "" && conn.User() == g.User && string(password) == g.password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %s", conn.User())
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if g.authorizedKey != nil && conn.User() == g.User &&
				ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(g.authorizedKey) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key for %s", conn.User())
		},
	}
	cfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("gateway listen: %v", err)
	}
	g.listener = listener
	addr := listener.Addr().(*net.TCPAddr)
	g.Host = "127.0.0.1"
	g.Port = addr.Port

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			g.mu.Lock()
			g.conns = append(g.conns, conn)
			g.mu.Unlock()
			go g.serveConn(conn, cfg)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		g.mu.Lock()
		for _, c := range g.conns {
			c.Close()
		}
		g.mu.Unlock()
		<-done
	})

	return g
}

// Spec returns a ConnectionSpec for this gateway with host key checking off.
func (g *Gateway) Spec() sshutil.ConnectionSpec {
	return sshutil.ConnectionSpec{
		Host:     g.Host,
		Port:     g.Port,
		User:     g.User,
		Password: g.password,
		Timeout:  5 * time.Second,
	}
}

// Handle registers a canned response for an exact command line.
func (g *Gateway) Handle(command string, resp Response) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses[command] = resp
}

// Forward routes direct-tcpip requests for dest ("host:port" as seen from
// the gateway) to target, a real address reachable from the test.
func (g *Gateway) Forward(dest, target string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forwards[dest] = target
}

// Commands returns the exec commands received so far.
func (g *Gateway) Commands() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.commands))
	copy(out, g.commands)
	return out
}

// Connections returns how many SSH connections completed the handshake.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connections
}

func (g *Gateway) serveConn(netConn net.Conn, cfg *ssh.ServerConfig) {
	defer netConn.Close()

	srvConn, chans, reqs, err := ssh.NewServerConn(netConn, cfg)
	if err != nil {
		return
	}
	defer srvConn.Close()

	g.mu.Lock()
	g.connections++
	g.mu.Unlock()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			ch, requests, err := newChan.Accept()
			if err != nil {
				continue
			}
			go g.serveSession(ch, requests)
		case "direct-tcpip":
			go g.serveDirectTCPIP(newChan)
		default:
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

func (g *Gateway) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		if req.WantReply {
			req.Reply(true, nil)
		}

		g.mu.Lock()
		g.commands = append(g.commands, payload.Command)
		resp, ok := g.responses[payload.Command]
		g.mu.Unlock()
		if !ok {
			resp = Response{Stderr: "sh: command not found", ExitCode: 127}
		}

		if resp.Stdout != "" {
			io.WriteString(ch, resp.Stdout)
		}
		if resp.Stderr != "" {
			io.WriteString(ch.Stderr(), resp.Stderr)
		}
		status := struct{ Status uint32 }{uint32(resp.ExitCode)}
		ch.SendRequest("exit-status", false, ssh.Marshal(&status))
		return
	}
}

// directTCPIPData matches the SSH wire format for direct-tcpip extra data.
type directTCPIPData struct {
	DestHost   string
	DestPort   uint32
	OriginHost string
	OriginPort uint32
}

func (g *Gateway) serveDirectTCPIP(newChan ssh.NewChannel) {
	var data directTCPIPData
	if err := ssh.Unmarshal(newChan.ExtraData(), &data); err != nil {
		newChan.Reject(ssh.ConnectionFailed, "invalid payload")
		return
	}

	dest := net.JoinHostPort(data.DestHost, strconv.Itoa(int(data.DestPort)))
	g.mu.Lock()
	if target, ok := g.forwards[dest]; ok {
		dest = target
	}
	g.mu.Unlock()

	upstream, err := net.Dial("tcp", dest)
	if err != nil {
		newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	defer upstream.Close()

	ch, reqs, err := newChan.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(reqs)

	done := make(chan struct{}, 2)
	go func() { io.Copy(ch, upstream); done <- struct{}{} }()
	go func() { io.Copy(upstream, ch); done <- struct{}{} }()
	<-done
}

// WriteKey generates an ed25519 key pair, writes the private key in OpenSSH
// format under dir, and returns its path and public key.
func WriteKey(t testing.TB, dir string) (string, ssh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return path, sshPub
}
