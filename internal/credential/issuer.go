package credential

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
)

// DefaultCommand is the token command template. {principal} and {lifespan}
// are substituted before it runs.
const DefaultCommand = "scontrol token username={principal} lifespan={lifespan}"

// principalPattern keeps the principal safe to splice into a shell line.
var principalPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Issuer requests tokens from a gateway through a Runner.
type Issuer struct {
	runner  sshutil.Runner
	spec    sshutil.ConnectionSpec
	command string
	log     logger.Logger
	now     func() time.Time
}

// NewIssuer creates an Issuer. An empty command uses DefaultCommand.
func NewIssuer(runner sshutil.Runner, spec sshutil.ConnectionSpec, command string, log logger.Logger) *Issuer {
	if command == "" {
		command = DefaultCommand
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Issuer{
		runner:  runner,
		spec:    spec,
		command: command,
		log:     log,
		now:     time.Now,
	}
}

// RenderCommand fills the principal and lifespan into tmpl.
func RenderCommand(tmpl, principal string, lifespan int) string {
	return strings.NewReplacer(
		"{principal}", principal,
		"{lifespan}", strconv.Itoa(lifespan),
	).Replace(tmpl)
}

// Issue runs the token command for principal and parses the response.
// An empty principal means the gateway user; a non-positive lifespan means
// DefaultLifespan.
func (i *Issuer) Issue(ctx context.Context, principal string, lifespan int) (*Credential, error) {
	if principal == "" {
		principal = i.spec.User
	}
	if lifespan <= 0 {
		lifespan = DefaultLifespan
	}
	if !principalPattern.MatchString(principal) {
		return nil, errors.New(errors.ErrCredential,
			fmt.Sprintf("Principal %q is not a valid Slurm user name", principal),
			"Set credential.principal to a plain user name")
	}

	issuedAt := i.now()
	command := RenderCommand(i.command, principal, lifespan)
	i.log.Debug("requesting token for %s (lifespan %ds)", principal, lifespan)

	res, err := i.runner.Execute(ctx, i.spec, command)
	if err != nil {
		return nil, err
	}

	variable, token, err := ParseTokenLine(res.Stdout)
	if err != nil {
		if res.ExitCode != 0 && res.Stderr != "" {
			return nil, errors.WrapWithCode(err, errors.ErrCredential,
				fmt.Sprintf("Token command exited with status %d: %s", res.ExitCode, res.Stderr),
				"Run the credential command by hand on the gateway to see what went wrong")
		}
		return nil, err
	}

	cred := &Credential{
		Variable:        variable,
		Principal:       principal,
		Token:           token,
		IssuedAt:        issuedAt,
		LifespanSeconds: lifespan,
	}
	i.log.Info("issued %s", cred)
	return cred, nil
}
