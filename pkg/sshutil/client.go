package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is the gateway SSH port used when a spec leaves Port unset.
const DefaultPort = 22

// DefaultTimeout bounds the TCP connect and SSH handshake.
const DefaultTimeout = 10 * time.Second

// ConnectionSpec describes how to reach and authenticate to a gateway host.
// Exactly one of Password or KeyPath is expected; when both are set the key
// is offered first.
type ConnectionSpec struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyPath  string

	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string

	// StrictHostKeyChecking verifies the gateway against KnownHostsPath.
	// When false, host key verification is skipped (insecure, for CI/tests).
	StrictHostKeyChecking bool

	// Timeout bounds dialing; zero means DefaultTimeout.
	Timeout time.Duration
}

// Address returns the host:port string for dialing.
func (s ConnectionSpec) Address() string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// Validate checks that the spec can be used to open a session.
func (s ConnectionSpec) Validate() error {
	if s.Host == "" {
		return errors.New(errors.ErrAuthConfig,
			"No gateway host configured",
			"Set gateway.host in slurmmon.yaml")
	}
	if s.User == "" {
		return errors.New(errors.ErrAuthConfig,
			fmt.Sprintf("No username configured for gateway '%s'", s.Host),
			"Set gateway.user in slurmmon.yaml, or a User entry in ~/.ssh/config")
	}
	if s.Password == "" && s.KeyPath == "" {
		return errors.New(errors.ErrAuthConfig,
			fmt.Sprintf("No password or private key configured for gateway '%s'", s.Host),
			"Set gateway.key_path (or gateway.password / SLURMMON_SSH_PASSWORD)")
	}
	return nil
}

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The host as given in the spec
	Address string // The resolved address (host:port)
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// Dial establishes an authenticated SSH connection to the gateway described by spec.
// Dialing honours ctx cancellation as well as spec.Timeout.
func Dial(ctx context.Context, spec ConnectionSpec) (*Client, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	config, err := ClientConfig(spec)
	if err != nil {
		var smErr *errors.Error
		if stderrors.As(err, &smErr) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrAuthConfig,
			fmt.Sprintf("Couldn't set up SSH for '%s'", spec.Host),
			"Check gateway.key_path and gateway.known_hosts")
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	address := spec.Address()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnection,
			fmt.Sprintf("Can't reach '%s' at %s", spec.Host, address),
			suggestionForDialError(err))
	}

	// Handshake deadline; cleared once the connection is up.
	_ = conn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.New(errors.ErrConnection,
				hostKeyErr.Error(),
				hostKeyErr.Suggestion())
		}

		return nil, errors.WrapWithCode(err, errors.ErrConnection,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", spec.Host),
			suggestionForHandshakeError(err))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    spec.Host,
		Address: address,
	}, nil
}

// ClientConfig builds the x/crypto/ssh client config for spec.
func ClientConfig(spec ConnectionSpec) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if spec.KeyPath != "" {
		keyAuth, err := keyFileAuth(expandPath(spec.KeyPath))
		if err != nil {
			var encErr *EncryptedKeyError
			if !stderrors.As(err, &encErr) {
				return nil, errors.WrapWithCode(err, errors.ErrAuthConfig,
					fmt.Sprintf("Can't load private key %s", spec.KeyPath),
					"Check gateway.key_path points at a readable private key")
			}
			// Encrypted keys are usable through a running agent.
			agentAuth := sshAgentAuth()
			if agentAuth == nil && spec.Password == "" {
				return nil, errors.New(errors.ErrAuthConfig,
					fmt.Sprintf("SSH key %s is encrypted and no agent has it loaded", spec.KeyPath),
					addKeySuggestion(spec.KeyPath))
			}
			if agentAuth != nil {
				authMethods = append(authMethods, agentAuth)
			}
		} else {
			authMethods = append(authMethods, keyAuth)
		}
	}

	if spec.Password != "" {
		authMethods = append(authMethods, ssh.Password(spec.Password))
	}

	if len(authMethods) == 0 {
		return nil, errors.New(errors.ErrAuthConfig,
			"No SSH auth methods available",
			"Set gateway.key_path or gateway.password")
	}

	var hostKeyCallback ssh.HostKeyCallback
	if spec.StrictHostKeyChecking {
		knownHostsPath := spec.KnownHostsPath
		if knownHostsPath == "" {
			knownHostsPath = filepath.Join(homeDir(), ".ssh", "known_hosts")
		}
		var err error
		hostKeyCallback, err = createHostKeyCallback(expandPath(knownHostsPath))
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // User explicitly disabled host key checking
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &ssh.ClientConfig{
		User:            spec.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// agentConn holds the reusable SSH agent connection.
var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// Returns nil if there is no agent or it has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the SSH agent connection if one is open.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// keyFileAuth returns an auth method using a private key file.
// Returns EncryptedKeyError if the key requires a passphrase.
func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) ||
			strings.Contains(err.Error(), "encrypted") ||
			strings.Contains(err.Error(), "passphrase") ||
			isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

// Helper functions

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func addKeySuggestion(keyPath string) string {
	if runtime.GOOS == "darwin" {
		return fmt.Sprintf("Add the key to your agent: ssh-add --apple-use-keychain %s", keyPath)
	}
	return fmt.Sprintf("Add the key to your agent: ssh-add %s", keyPath)
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on the gateway? Try: ssh <gateway>"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the gateway. Check your network or VPN connection."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "i/o timeout") {
		return "Connection timed out. The gateway might be offline or blocked by a firewall."
	}
	return "Make sure the gateway is reachable: ping <gateway>"
}

func suggestionForHandshakeError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		return "Authentication was rejected. Check gateway.user and the configured key or password."
	}
	if strings.Contains(errStr, "host key") {
		return "Host key issue. Try connecting manually first: ssh <gateway>"
	}
	return "Something went wrong during SSH setup. Try: ssh -v <gateway>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The gateway's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  To remove the old entry:\n"+
			"    ssh-keygen -R %s -f %s",
		wantStr, e.ReceivedType, host, e.KnownHosts)
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED"))
}

// createHostKeyCallback wraps the knownhosts callback to provide better error messages.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		dir := filepath.Dir(knownHostsPath)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create .ssh directory: %w", err)
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0600); err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err != nil {
			var keyErr *knownhosts.KeyError
			if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   knownHostsPath,
					Want:         keyErr.Want,
				}
			}
		}
		return err
	}, nil
}
