package doctor

import (
	"context"
	"encoding/json"
	"testing"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status   CheckStatus
		expected string
	}{
		{StatusPass, "pass"},
		{StatusWarn, "warn"},
		{StatusFail, "fail"},
		{CheckStatus(99), "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			if got := tc.status.String(); got != tc.expected {
				t.Errorf("got %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestCheckResult_JSONStatus(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "x", Status: StatusWarn, Message: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != `{"name":"x","status":"warn","message":"m"}` {
		t.Errorf("unexpected JSON: %s", got)
	}
}

// mockCheck is a test implementation of Check.
type mockCheck struct {
	name     string
	category string
	blocks   []string
	result   CheckResult
	runs     int
	fixErr   error
	fixCalls int
}

func (m *mockCheck) Name() string     { return m.name }
func (m *mockCheck) Category() string { return m.category }
func (m *mockCheck) Run(context.Context) CheckResult {
	m.runs++
	return m.result
}
func (m *mockCheck) Fix() error {
	m.fixCalls++
	return m.fixErr
}

// gatingCheck is a mockCheck that stops other categories when it fails.
type gatingCheck struct {
	mockCheck
}

func (g *gatingCheck) Blocks() []string { return g.blocks }

func TestRunAll(t *testing.T) {
	checks := []Check{
		&mockCheck{
			name:     "check1",
			category: "TEST",
			result:   CheckResult{Name: "check1", Status: StatusPass, Message: "OK"},
		},
		&mockCheck{
			name:     "check2",
			category: "TEST",
			result:   CheckResult{Name: "check2", Status: StatusFail, Message: "Failed"},
		},
	}

	results := RunAll(context.Background(), checks)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != StatusPass {
		t.Errorf("expected first check to pass")
	}
	if results[1].Status != StatusFail {
		t.Errorf("expected second check to fail")
	}
}

func TestRunAll_GateSkipsBlockedCategories(t *testing.T) {
	login := &gatingCheck{mockCheck{
		name:     "login",
		category: CategoryGateway,
		blocks:   []string{CategoryGateway},
		result:   CheckResult{Name: "login", Status: StatusFail, Message: "connection refused"},
	}}
	token := &mockCheck{name: "token", category: CategoryGateway, result: CheckResult{Status: StatusPass}}
	st := &mockCheck{name: "store", category: CategoryStore, result: CheckResult{Status: StatusPass}}

	results := RunAll(context.Background(), []Check{login, token, st})

	if token.runs != 0 {
		t.Errorf("token check ran %d times after the gate failed", token.runs)
	}
	if results[1].Status != StatusWarn || results[1].Name != "token" {
		t.Errorf("expected skipped warning for token, got %+v", results[1])
	}
	if results[1].Message != "Skipped: connection refused" {
		t.Errorf("unexpected skip message %q", results[1].Message)
	}
	if st.runs != 1 {
		t.Errorf("store check should still run")
	}
}

func TestRunAll_PassingGateBlocksNothing(t *testing.T) {
	login := &gatingCheck{mockCheck{
		name:     "login",
		category: CategoryGateway,
		blocks:   []string{CategoryGateway},
		result:   CheckResult{Status: StatusPass},
	}}
	token := &mockCheck{name: "token", category: CategoryGateway, result: CheckResult{Status: StatusPass}}

	RunAll(context.Background(), []Check{login, token})

	if token.runs != 1 {
		t.Errorf("expected token check to run once, ran %d", token.runs)
	}
}

func TestCountByStatus(t *testing.T) {
	results := []CheckResult{
		{Status: StatusPass},
		{Status: StatusPass},
		{Status: StatusWarn},
		{Status: StatusFail},
	}

	counts := CountByStatus(results)

	if counts[StatusPass] != 2 {
		t.Errorf("expected 2 pass, got %d", counts[StatusPass])
	}
	if counts[StatusWarn] != 1 {
		t.Errorf("expected 1 warn, got %d", counts[StatusWarn])
	}
	if counts[StatusFail] != 1 {
		t.Errorf("expected 1 fail, got %d", counts[StatusFail])
	}
}

func TestHasFailuresAndIssues(t *testing.T) {
	tests := []struct {
		name         string
		results      []CheckResult
		wantFailures bool
		wantIssues   bool
	}{
		{
			name:    "all pass",
			results: []CheckResult{{Status: StatusPass}, {Status: StatusPass}},
		},
		{
			name:       "with warn only",
			results:    []CheckResult{{Status: StatusPass}, {Status: StatusWarn}},
			wantIssues: true,
		},
		{
			name:         "with fail",
			results:      []CheckResult{{Status: StatusPass}, {Status: StatusFail}},
			wantFailures: true,
			wantIssues:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasFailures(tc.results); got != tc.wantFailures {
				t.Errorf("HasFailures() = %v, want %v", got, tc.wantFailures)
			}
			if got := HasIssues(tc.results); got != tc.wantIssues {
				t.Errorf("HasIssues() = %v, want %v", got, tc.wantIssues)
			}
		})
	}
}

func TestFixableCount(t *testing.T) {
	results := []CheckResult{
		{Status: StatusWarn, Fixable: true},
		{Status: StatusPass, Fixable: true},
		{Status: StatusFail, Fixable: false},
		{Status: StatusFail, Fixable: true},
	}
	if got := FixableCount(results); got != 2 {
		t.Errorf("FixableCount() = %d, want 2", got)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name    string
		results []CheckResult
		want    string
	}{
		{"clean", []CheckResult{{Status: StatusPass}}, "Everything looks good"},
		{"one issue", []CheckResult{{Status: StatusWarn}}, "1 issue found"},
		{"two issues", []CheckResult{{Status: StatusWarn}, {Status: StatusFail}}, "2 issues found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Summary(tc.results); got != tc.want {
				t.Errorf("Summary() = %q, want %q", got, tc.want)
			}
		})
	}
}
