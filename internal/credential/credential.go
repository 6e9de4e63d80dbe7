// Package credential issues short-lived Slurm REST API tokens by running
// scontrol on the gateway.
package credential

import (
	"fmt"
	"strings"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
)

// DefaultLifespan is the token lifetime requested when none is configured.
const DefaultLifespan = 3600

// Credential is a token issued for a principal. It is never persisted.
type Credential struct {
	// Variable is the name on the left of the NAME=VALUE response, usually SLURM_JWT.
	Variable        string
	Principal       string
	Token           string
	IssuedAt        time.Time
	LifespanSeconds int
}

// ExpiresAt returns IssuedAt plus the lifespan.
func (c *Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(time.Duration(c.LifespanSeconds) * time.Second)
}

// Expired reports whether the credential is no longer valid at now.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// EnvLine renders the credential the way scontrol prints it.
func (c *Credential) EnvLine() string {
	return c.Variable + "=" + c.Token
}

// String hides the token so credentials can be logged.
func (c *Credential) String() string {
	return fmt.Sprintf("%s for %s (expires %s)", c.Variable, c.Principal, c.ExpiresAt().Format(time.RFC3339))
}

// ParseTokenLine splits scontrol's NAME=VALUE output. The value must be
// non-empty and must not mention an error.
func ParseTokenLine(output string) (variable, token string, err error) {
	line := strings.TrimSpace(output)
	if strings.Contains(line, "\n") {
		return "", "", errors.New(errors.ErrCredential,
			"Token command printed more than one line",
			"Make sure the credential command prints exactly one NAME=VALUE line")
	}

	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return "", "", errors.New(errors.ErrCredential,
			fmt.Sprintf("Token response %q is not NAME=VALUE", truncate(line, 60)),
			"Check that scontrol token works for this user on the gateway")
	}

	variable, token = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if token == "" {
		return "", "", errors.New(errors.ErrCredential,
			fmt.Sprintf("Token response for %s has an empty value", variable),
			"Check that JWT auth is enabled in slurm.conf (AuthAltTypes=auth/jwt)")
	}
	if strings.Contains(strings.ToLower(token), "error") {
		return "", "", errors.New(errors.ErrCredential,
			fmt.Sprintf("Gateway refused to issue a token: %s", token),
			"The gateway user may lack permission to issue tokens for this principal")
	}

	return variable, token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
