package tunnel

import (
	"fmt"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
)

// Forwarder kinds accepted by NewForwarder.
const (
	KindProcess = "process"
	KindNative  = "native"
)

// NewForwarder returns the forwarder named by kind. An empty kind picks
// native when the gateway uses a password and process otherwise.
func NewForwarder(kind string, spec Spec, sshBinary string, log logger.Logger) (Forwarder, error) {
	if kind == "" {
		kind = KindProcess
		if spec.Gateway.Password != "" && spec.Gateway.KeyPath == "" {
			kind = KindNative
		}
	}
	switch kind {
	case KindProcess:
		return NewProcessForwarder(sshBinary, log), nil
	case KindNative:
		return NewNativeForwarder(nil, log), nil
	default:
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown tunnel forwarder %q", kind),
			"Use tunnel.forwarder: process or native")
	}
}
