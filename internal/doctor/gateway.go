package doctor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slurmmon/slurmmon/internal/credential"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
)

// GatewayCheck logs in to the gateway and runs a no-op command.
type GatewayCheck struct {
	Spec   sshutil.ConnectionSpec
	Runner sshutil.Runner
}

func (c *GatewayCheck) Name() string     { return "gateway_login" }
func (c *GatewayCheck) Category() string { return CategoryGateway }
func (c *GatewayCheck) Blocks() []string { return []string{CategoryGateway} }

func (c *GatewayCheck) Run(ctx context.Context) CheckResult {
	start := time.Now()
	res, err := c.Runner.Execute(ctx, c.Spec, "true")
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Can't log in to %s: %s", c.Spec.Address(), firstLine(err)),
			Suggestion: suggestionOf(err, "Try: ssh "+c.Spec.Host),
		}
	}
	if res.ExitCode != 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("Logged in to %s but 'true' exited %d", c.Spec.Address(), res.ExitCode),
			Suggestion: "Check the login shell on the gateway",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Logged in to %s in %s", c.Spec.Address(), time.Since(start).Round(time.Millisecond)),
	}
}

func (c *GatewayCheck) Fix() error {
	return nil
}

// TokenCheck issues a short-lived token to prove the token command works.
// The token itself is never shown.
type TokenCheck struct {
	Spec      sshutil.ConnectionSpec
	Runner    sshutil.Runner
	Command   string
	Principal string
}

// tokenCheckLifespan keeps the probe token short-lived.
const tokenCheckLifespan = 60

func (c *TokenCheck) Name() string     { return "token_command" }
func (c *TokenCheck) Category() string { return CategoryGateway }

func (c *TokenCheck) Run(ctx context.Context) CheckResult {
	issuer := credential.NewIssuer(c.Runner, c.Spec, c.Command, logger.Noop())
	cred, err := issuer.Issue(ctx, c.Principal, tokenCheckLifespan)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    "Token command failed: " + firstLine(err),
			Suggestion: suggestionOf(err, "Run 'slurmmon exec scontrol token' to see the raw output"),
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Issued %s for %s", cred.Variable, cred.Principal),
	}
}

func (c *TokenCheck) Fix() error {
	return nil
}

// NewGatewayChecks creates the checks that talk to the gateway.
func NewGatewayChecks(spec sshutil.ConnectionSpec, runner sshutil.Runner, tokenCommand, principal string) []Check {
	return []Check{
		&GatewayCheck{Spec: spec, Runner: runner},
		&TokenCheck{Spec: spec, Runner: runner, Command: tokenCommand, Principal: principal},
	}
}

// firstLine picks the headline out of a structured error ("✗ <message>").
func firstLine(err error) string {
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "✗"))
		if line != "" {
			return line
		}
	}
	return ""
}
