package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distbank/account"
	"distbank/report"
	"distbank/runner"
)

var parseBalancesTest = []struct {
	n       int
	args    []string
	initial []account.Balance
	err     error
}{
	{2, []string{"10", "20"}, []account.Balance{10, 20}, nil},
	{0, []string{}, nil, ErrUsage},
	{2, []string{"10"}, nil, ErrUsage},
	{1, []string{"ten"}, nil, ErrUsage},
	{1, []string{"40000"}, nil, ErrUsage},
}

func TestParseBalances(t *testing.T) {
	for i, test := range parseBalancesTest {
		initial, err := parseBalances(test.n, test.args)
		if !errors.Is(err, test.err) {
			t.Errorf("Test %v: Expected error %v. Got: %v", i, test.err, err)
		}
		assert.Equal(t, test.initial, initial, "Test %v", i)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestRunWritesLogs(t *testing.T) {
	dir := t.TempDir()
	events := filepath.Join(dir, "events.log")
	pipes := filepath.Join(dir, "pipes.log")
	export := filepath.Join(dir, "history.cbor")

	out, err := execute(t, "-p", "3", "10", "20", "30",
		"--events-log", events, "--pipes-log", pipes, "--export", export, "--check", "--log-level", "disabled")
	require.NoError(t, err)
	assert.Contains(t, out, "All predicates holds")
	assert.Contains(t, out, "received all DONE messages")

	eventsLog, err := os.ReadFile(events)
	require.NoError(t, err)
	assert.Contains(t, string(eventsLog), "process 1 received all STARTED messages")

	pipesLog, err := os.ReadFile(pipes)
	require.NoError(t, err)
	assert.Contains(t, string(pipesLog), "Opened")

	f, err := os.Open(export)
	require.NoError(t, err)
	defer f.Close()
	ah, err := report.Import(f)
	require.NoError(t, err)
	assert.Equal(t, map[int]account.Balance{1: 10, 2: 19, 3: 31}, ah.Final())
}

func TestRunFromEnvironment(t *testing.T) {
	t.Setenv("DISTBANK_TRANSPORT", "grpc")
	t.Setenv("DISTBANK_TRANSFERS", "2>1:5")

	out, err := execute(t, "-p", "2", "-q", "10", "20", "--log-level", "disabled", "--events-log=", "--pipes-log=")
	require.NoError(t, err)
	assert.NotContains(t, out, "STARTED")
	assert.NotEmpty(t, out)
}

func TestUsageErrors(t *testing.T) {
	_, err := execute(t, "-p", "2", "10", "--events-log=", "--pipes-log=")
	assert.ErrorIs(t, err, ErrUsage)

	_, err = execute(t, "-p", "2", "10", "10", "--transfers", "1>2", "--events-log=", "--pipes-log=")
	assert.ErrorIs(t, err, ErrUsage)

	_, err = execute(t, "-p", "1", "10", "--log-level", "loud", "--events-log=", "--pipes-log=")
	assert.ErrorIs(t, err, ErrUsage)
}

func TestOverflowingScheduleIsRejected(t *testing.T) {
	_, err := execute(t, "-p", "2", "30000", "30000", "--transfers", "1>2:30000", "--events-log=", "--pipes-log=")
	assert.ErrorIs(t, err, runner.ErrBalance)
}
