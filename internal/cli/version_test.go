package cli

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"dev", "dev"},
		{"1.2.3", "v1.2.3"},
		{"v1.2.3", "v1.2.3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatVersion(tt.in), "formatVersion(%q)", tt.in)
	}
}

func TestPrintVersion(t *testing.T) {
	oldV, oldC, oldD := version, commit, date
	defer SetVersionInfo(oldV, oldC, oldD)

	SetVersionInfo("0.4.0", "abc1234", "2026-01-02")
	assert.Equal(t, "0.4.0", GetVersion())

	var buf bytes.Buffer
	printVersion(&buf, false)
	out := buf.String()
	assert.Contains(t, out, "slurmmon v0.4.0")
	assert.Contains(t, out, "  commit   abc1234\n")
	assert.Contains(t, out, "  built    2026-01-02\n")
	assert.Contains(t, out, "  platform "+runtime.GOOS+"/"+runtime.GOARCH)

	buf.Reset()
	printVersion(&buf, true)
	assert.Equal(t, "0.4.0\n", buf.String())
}
