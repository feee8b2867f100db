package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/rdist/pkg/report"
	"github.com/andrej220/rdist/pkg/session"
)

const passingSuite = `
version: "1"
roots:
  - name: sys
    children:
      - name: noop
        script: "true"
      - name: echo
        keywords: [slow]
        script: echo hello
`

const failingSuite = `
version: "1"
roots:
  - name: sys
    children:
      - name: ok
        script: "true"
      - name: broken
        script: exit 1
      - name: after
        script: "true"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func rdist(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), append(args, "--log-format", "console"), strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestLocalPasses(t *testing.T) {
	suite := writeFile(t, "suite.yaml", passingSuite)
	code, out, _ := rdist(t, "local", suite)
	assert.Equal(t, report.ExitOK, code)
	assert.Contains(t, out, "PASSED")
	assert.Contains(t, out, "2 passed, 0 failed")
}

func TestLocalFailuresExitOne(t *testing.T) {
	suite := writeFile(t, "suite.yaml", failingSuite)
	code, out, stderr := rdist(t, "local", suite)
	assert.Equal(t, report.ExitFailures, code)
	assert.Contains(t, out, "2 passed, 1 failed")
	assert.NotContains(t, stderr, "rdist:")
}

func TestLocalExitFirst(t *testing.T) {
	suite := writeFile(t, "suite.yaml", failingSuite)
	code, out, _ := rdist(t, "local", "-x", suite)
	assert.Equal(t, report.ExitFailures, code)
	assert.Contains(t, out, "1 passed, 1 failed")
}

func TestLocalKeyword(t *testing.T) {
	suite := writeFile(t, "suite.yaml", passingSuite)
	code, out, _ := rdist(t, "local", "-k", "-slow", suite)
	assert.Equal(t, report.ExitOK, code)
	assert.Contains(t, out, "1 passed")
	assert.NotContains(t, out, "sys/echo")
}

func TestRunInProc(t *testing.T) {
	suite := writeFile(t, "suite.yaml", failingSuite)
	summary := filepath.Join(t.TempDir(), "summary.json")
	code, out, _ := rdist(t, "run", "--hosts", "inproc,inproc", "--reporter", "local", "--summary-file", summary, suite)
	assert.Equal(t, report.ExitFailures, code)
	assert.Contains(t, out, "2 passed, 1 failed")

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	var res session.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, session.StateFinished, res.State)
	assert.Len(t, res.Nodes, 2)
}

func TestRunWithoutHostsIsUsageError(t *testing.T) {
	suite := writeFile(t, "suite.yaml", passingSuite)
	code, _, stderr := rdist(t, "run", suite)
	assert.Equal(t, session.ExitUsage, code)
	assert.Contains(t, stderr, "no hosts given")
}

func TestConfigFileWithFlagOverrides(t *testing.T) {
	suite := writeFile(t, "suite.yaml", failingSuite)
	cfg := writeFile(t, "rdist.yaml", `
hosts: [inproc]
reporter: local
suite: `+suite+`
`)
	code, out, _ := rdist(t, "run", "--config", cfg)
	assert.Equal(t, report.ExitFailures, code)
	assert.Contains(t, out, "2 passed, 1 failed")

	code, out, _ = rdist(t, "run", "--config", cfg, "-k", "-broken")
	assert.Equal(t, report.ExitOK, code)
	assert.Contains(t, out, "2 passed, 0 failed")
}

func TestUsageErrors(t *testing.T) {
	suite := writeFile(t, "suite.yaml", passingSuite)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no suite", []string{"local"}, "no suite given"},
		{"missing suite file", []string{"local", filepath.Join(t.TempDir(), "nope.yaml")}, "failed to read suite"},
		{"bad reporter", []string{"local", "--reporter", "fancy", suite}, "invalid configuration"},
		{"bad host", []string{"run", "--hosts", "@nohost", suite}, "invalid configuration"},
		{"unknown flag", []string{"local", "--frobnicate", suite}, "unknown flag"},
		{"missing config file", []string{"local", "--config", filepath.Join(t.TempDir(), "none.yaml"), suite}, "rdist:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := rdist(t, tt.args...)
			assert.Equal(t, session.ExitUsage, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestBoxCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	in := strings.NewReader(`{"id":"sys/echo","script":"echo boxed"}`)
	code := execute(context.Background(), []string{"box"}, in, &stdout, &stderr)
	require.Equal(t, report.ExitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), `"sys/echo"`)
	assert.Contains(t, stdout.String(), "boxed")
}

func TestExitFor(t *testing.T) {
	assert.NoError(t, exitFor(session.Result{ExitCode: report.ExitOK}, nil))

	err := exitFor(session.Result{ExitCode: report.ExitFailures}, nil)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, report.ExitFailures, ee.code)
	assert.NoError(t, ee.err)

	err = exitFor(session.Result{}, session.ErrInterrupted)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, report.ExitInterrupted, ee.code)
}
