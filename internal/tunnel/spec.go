// Package tunnel forwards a local TCP port to a host reachable from the SSH
// gateway and manages the forward as a start/stop resource.
package tunnel

import (
	"fmt"
	"net"
	"strconv"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
)

// Defaults match a stock slurmrestd behind a login node.
const (
	DefaultRemoteHost = "slurm"
	DefaultRemotePort = 6820
	DefaultLocalPort  = 6820
)

// Spec is an immutable description of one forward.
type Spec struct {
	Gateway    sshutil.ConnectionSpec
	RemoteHost string
	RemotePort int
	LocalPort  int
}

// Validate checks the gateway and port fields.
func (s Spec) Validate() error {
	if err := s.Gateway.Validate(); err != nil {
		return err
	}
	if s.RemoteHost == "" {
		return errors.New(errors.ErrConfig,
			"Tunnel remote host is empty",
			"Set tunnel.remote_host to the REST API host as seen from the gateway")
	}
	for name, port := range map[string]int{"remote_port": s.RemotePort, "local_port": s.LocalPort} {
		if port <= 0 || port > 65535 {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Tunnel %s %d is out of range", name, port),
				"Ports must be between 1 and 65535")
		}
	}
	return nil
}

// LocalAddress is the loopback address the forward listens on.
func (s Spec) LocalAddress() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.LocalPort))
}

// RemoteAddress is the forward target as resolved by the gateway.
func (s Spec) RemoteAddress() string {
	return net.JoinHostPort(s.RemoteHost, strconv.Itoa(s.RemotePort))
}

// BaseURL is the HTTP endpoint operations use while the tunnel is up.
func (s Spec) BaseURL() string {
	return fmt.Sprintf("http://localhost:%d", s.LocalPort)
}
