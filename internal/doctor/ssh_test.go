package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/slurmmon/slurmmon/pkg/sshutil"
)

func TestSSHKeyCheck(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("name and category", func(t *testing.T) {
		check := &SSHKeyCheck{}
		if check.Name() != "ssh_key" {
			t.Errorf("expected name 'ssh_key', got %s", check.Name())
		}
		if check.Category() != "SSH" {
			t.Errorf("expected category 'SSH', got %s", check.Category())
		}
	})

	t.Run("password auth", func(t *testing.T) {
		result := (&SSHKeyCheck{Spec: sshutil.ConnectionSpec{Password: "x"}}).Run(ctx)
		if result.Status != StatusPass {
			t.Errorf("expected StatusPass, got %v", result.Status)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		result := (&SSHKeyCheck{}).Run(ctx)
		if result.Status != StatusWarn {
			t.Errorf("expected StatusWarn, got %v", result.Status)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		spec := sshutil.ConnectionSpec{KeyPath: filepath.Join(dir, "missing")}
		result := (&SSHKeyCheck{Spec: spec}).Run(ctx)
		if result.Status != StatusFail {
			t.Errorf("expected StatusFail, got %v", result.Status)
		}
	})

	t.Run("loose permissions are fixable", func(t *testing.T) {
		keyPath := filepath.Join(dir, "id_ed25519")
		if err := os.WriteFile(keyPath, []byte("key"), 0644); err != nil {
			t.Fatal(err)
		}
		check := &SSHKeyCheck{Spec: sshutil.ConnectionSpec{KeyPath: keyPath}}

		result := check.Run(ctx)
		if result.Status != StatusWarn || !result.Fixable {
			t.Fatalf("expected fixable warning, got %+v", result)
		}

		if err := check.Fix(); err != nil {
			t.Fatalf("Fix() error: %v", err)
		}
		info, err := os.Stat(keyPath)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("expected 0600 after fix, got %04o", perm)
		}
		if result := check.Run(ctx); result.Status != StatusPass {
			t.Errorf("expected StatusPass after fix, got %v", result.Status)
		}
	})
}

func TestSSHAgentCheck(t *testing.T) {
	ctx := context.Background()
	t.Setenv("SSH_AUTH_SOCK", "")

	t.Run("missing agent with a key is a warning", func(t *testing.T) {
		result := (&SSHAgentCheck{Spec: sshutil.ConnectionSpec{KeyPath: "/k"}}).Run(ctx)
		if result.Status != StatusWarn {
			t.Errorf("expected StatusWarn, got %v", result.Status)
		}
	})

	t.Run("missing agent and no other auth fails", func(t *testing.T) {
		result := (&SSHAgentCheck{}).Run(ctx)
		if result.Status != StatusFail {
			t.Errorf("expected StatusFail, got %v", result.Status)
		}
	})

	t.Run("dead socket", func(t *testing.T) {
		t.Setenv("SSH_AUTH_SOCK", filepath.Join(t.TempDir(), "agent.sock"))
		result := (&SSHAgentCheck{Spec: sshutil.ConnectionSpec{KeyPath: "/k"}}).Run(ctx)
		if result.Message != "SSH agent socket not accessible" {
			t.Errorf("unexpected message %q", result.Message)
		}
	})
}

func TestSSHBinaryCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("native forwarder needs no binary", func(t *testing.T) {
		result := (&SSHBinaryCheck{Forwarder: "native", Binary: "definitely-not-ssh"}).Run(ctx)
		if result.Status != StatusPass {
			t.Errorf("expected StatusPass, got %v", result.Status)
		}
	})

	t.Run("password auth picks native", func(t *testing.T) {
		check := &SSHBinaryCheck{Binary: "definitely-not-ssh", Spec: sshutil.ConnectionSpec{Password: "x"}}
		if result := check.Run(ctx); result.Status != StatusPass {
			t.Errorf("expected StatusPass, got %v", result.Status)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		result := (&SSHBinaryCheck{Forwarder: "process", Binary: "definitely-not-ssh-binary"}).Run(ctx)
		if result.Status != StatusFail {
			t.Errorf("expected StatusFail, got %v", result.Status)
		}
	})
}

func TestKnownHostsCheck(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	knownHosts := filepath.Join(dir, "known_hosts")
	if err := os.WriteFile(knownHosts, []byte("login.example.edu ssh-ed25519 AAAA\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		spec sshutil.ConnectionSpec
		want CheckStatus
	}{
		{"checking off", sshutil.ConnectionSpec{Host: "login.example.edu"}, StatusWarn},
		{"listed", sshutil.ConnectionSpec{Host: "login.example.edu", StrictHostKeyChecking: true, KnownHostsPath: knownHosts}, StatusPass},
		{"not listed", sshutil.ConnectionSpec{Host: "other.example.edu", StrictHostKeyChecking: true, KnownHostsPath: knownHosts}, StatusWarn},
		{"unreadable", sshutil.ConnectionSpec{Host: "login.example.edu", StrictHostKeyChecking: true, KnownHostsPath: filepath.Join(dir, "nope")}, StatusFail},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := (&KnownHostsCheck{Spec: tc.spec}).Run(ctx); got.Status != tc.want {
				t.Errorf("got %v (%s), want %v", got.Status, got.Message, tc.want)
			}
		})
	}
}
