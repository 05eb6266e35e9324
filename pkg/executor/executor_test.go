package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecutor_Stdout(t *testing.T) {
	e := NewLocalExecutor()
	res, err := e.Execute(context.Background(), Command{Args: []string{"sh", "-c", "echo hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocalExecutor_Stdin(t *testing.T) {
	e := NewLocalExecutor()
	res, err := e.Execute(context.Background(), Command{Args: []string{"cat"}, Stdin: []byte("payload")})
	require.NoError(t, err)
	assert.Equal(t, "payload", string(res.Stdout))
}

func TestLocalExecutor_Env(t *testing.T) {
	e := NewLocalExecutor("BRAINBOX_TEST_A=1")
	res, err := e.Execute(context.Background(), Command{
		Args: []string{"sh", "-c", "echo $BRAINBOX_TEST_A$BRAINBOX_TEST_B"},
		Env:  []string{"BRAINBOX_TEST_B=2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "12\n", string(res.Stdout))
}

func TestLocalExecutor_NonZeroExit(t *testing.T) {
	e := NewLocalExecutor()
	res, err := e.Execute(context.Background(), Command{Args: []string{"sh", "-c", "echo broken >&2; exit 3"}})
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Error(), "broken")
	assert.Equal(t, 3, res.ExitCode)
}

func TestLocalExecutor_Cancel(t *testing.T) {
	e := NewLocalExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, Command{Args: []string{"sleep", "10"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLocalExecutor_EmptyCommand(t *testing.T) {
	_, err := NewLocalExecutor().Execute(context.Background(), Command{})
	assert.Error(t, err)
}

func TestFakeExecutor_LongestPrefixWins(t *testing.T) {
	f := NewFakeExecutor().
		On("docker", &Result{Stdout: []byte("generic")}, nil).
		On("docker inspect", &Result{Stdout: []byte("true\n")}, nil)

	res, err := f.Execute(context.Background(), Command{Args: []string{"docker", "inspect", "-f", "x", "c1"}})
	require.NoError(t, err)
	assert.Equal(t, "true\n", string(res.Stdout))

	res, err = f.Execute(context.Background(), Command{Args: []string{"docker", "ps"}})
	require.NoError(t, err)
	assert.Equal(t, "generic", string(res.Stdout))

	assert.Equal(t, []string{"docker inspect -f x c1", "docker ps"}, f.Commands())
}
