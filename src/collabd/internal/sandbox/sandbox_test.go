package sandbox

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/collabcode/collabd/src/collabd/entity"
	"github.com/collabcode/collabd/src/collabd/internal/clock"
	"github.com/collabcode/collabd/src/collabd/internal/executor"
	"github.com/collabcode/collabd/src/collabd/internal/executor/execmock"
	"github.com/collabcode/collabd/src/collabd/internal/fs"
	"github.com/collabcode/collabd/src/collabd/internal/runtimes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func newSandbox(t *testing.T, root string, execFunc func(cmd *exec.Cmd) error) Sandbox {
	provider, err := config.NewStaticProvider(map[string]interface{}{
		"sandbox": map[string]interface{}{
			"workspaceRoot":    root,
			"memory":           "128m",
			"cpus":             "0.5",
			"defaultTimeoutMs": 5000,
		},
	})
	require.NoError(t, err)

	table, err := runtimes.New(runtimes.Params{Config: provider, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	s, err := New(Params{
		Config:   provider,
		Logger:   zap.NewNop().Sugar(),
		Executor: executor.NewExecutor(executor.WithExecFunc(execFunc)),
		FS:       fs.New(),
		Clock:    clock.New(),
		Runtimes: table,
		Scope:    tally.NewTestScope("testing", make(map[string]string, 0)),
	})
	require.NoError(t, err)
	return s
}

func TestNewProbesDockerAvailability(t *testing.T) {
	ctrl := gomock.NewController(t)
	execMock := execmock.NewMockExecutor(ctrl)
	execMock.EXPECT().Run(gomock.Any()).Return("Docker version 27.0", "", 0, nil)

	provider, err := config.NewStaticProvider(map[string]interface{}{
		"sandbox": map[string]interface{}{"workspaceRoot": t.TempDir()},
	})
	require.NoError(t, err)
	table, err := runtimes.New(runtimes.Params{Config: provider, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	_, err = New(Params{
		Config:   provider,
		Logger:   zap.NewNop().Sugar(),
		Executor: execMock,
		FS:       fs.New(),
		Clock:    clock.New(),
		Runtimes: table,
		Scope:    tally.NewTestScope("testing", make(map[string]string, 0)),
	})
	require.NoError(t, err)
}

func TestExecuteSuccess(t *testing.T) {
	root := t.TempDir()
	var gotArgs []string
	s := newSandbox(t, root, func(cmd *exec.Cmd) error {
		gotArgs = cmd.Args
		cmd.Stdout.Write([]byte("hello\n"))
		cmd.Stderr.Write([]byte(""))
		return nil
	})

	res := s.Execute(context.Background(), entity.ExecutionRequest{
		Code:     "print('hello')",
		Language: "python",
		RoomID:   "ABC123",
	})

	assert.True(t, res.Success)
	assert.Equal(t, "hello", res.Output)
	assert.Empty(t, res.Error)
	assert.Equal(t, "python", res.Language)
	assert.Equal(t, "ABC123", res.RoomID)

	// The container is fully isolated and resource-bounded.
	assert.Contains(t, gotArgs, "--network")
	assert.Contains(t, gotArgs, "none")
	assert.Contains(t, gotArgs, "--cap-drop")
	assert.Contains(t, gotArgs, "ALL")
	assert.Contains(t, gotArgs, "128m")
	assert.Contains(t, gotArgs, "0.5")
}

func TestExecuteCompletedRunWithStderrIsSuccess(t *testing.T) {
	s := newSandbox(t, t.TempDir(), func(cmd *exec.Cmd) error {
		cmd.Stderr.Write([]byte("SyntaxError: invalid syntax\n"))
		probe := exec.Command("sh", "-c", "exit 3")
		return probe.Run()
	})

	res := s.Execute(context.Background(), entity.ExecutionRequest{
		Code:     "def broken(",
		Language: "python",
		RoomID:   "ABC123",
	})

	// Compiler and interpreter diagnostics are ordinary output, not a
	// sandbox failure.
	assert.True(t, res.Success)
	assert.Equal(t, "SyntaxError: invalid syntax", res.Error)
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	s := newSandbox(t, t.TempDir(), func(cmd *exec.Cmd) error { return nil })

	res := s.Execute(context.Background(), entity.ExecutionRequest{
		Code:     "x",
		Language: "cobol",
		RoomID:   "ABC123",
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unsupported language")
}

func TestExecuteTimeout(t *testing.T) {
	s := newSandbox(t, t.TempDir(), func(cmd *exec.Cmd) error {
		// Outlive the 20ms deadline so the run context expires.
		time.Sleep(80 * time.Millisecond)
		return context.DeadlineExceeded
	})

	res := s.Execute(context.Background(), entity.ExecutionRequest{
		Code:      "while True: pass",
		Language:  "python",
		RoomID:    "ABC123",
		TimeoutMs: 20,
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out after 20ms")
	assert.Equal(t, -1, res.ExitCode)
}

func TestExecuteLaunchFailure(t *testing.T) {
	s := newSandbox(t, t.TempDir(), func(cmd *exec.Cmd) error {
		return os.ErrNotExist
	})

	res := s.Execute(context.Background(), entity.ExecutionRequest{
		Code:     "x",
		Language: "python",
		RoomID:   "ABC123",
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "starting sandboxed process")
}

func TestExecuteCleansUpWorkspace(t *testing.T) {
	root := t.TempDir()
	ran := false
	s := newSandbox(t, root, func(cmd *exec.Cmd) error {
		ran = true
		return nil
	})

	s.Execute(context.Background(), entity.ExecutionRequest{
		Code:     "print(1)",
		Language: "python",
		RoomID:   "ABC123",
	})

	assert.True(t, ran)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteMaterializesSetupFiles(t *testing.T) {
	root := t.TempDir()
	var files []string
	s := newSandbox(t, root, func(cmd *exec.Cmd) error {
		// Snapshot the workspace while it still exists.
		for _, arg := range cmd.Args {
			if !strings.HasPrefix(arg, root) {
				continue
			}
			dir := strings.TrimSuffix(arg, ":"+_containerWorkdir+":rw")
			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				files = append(files, e.Name())
			}
		}
		return nil
	})

	res := s.Execute(context.Background(), entity.ExecutionRequest{
		Code:     "console.log(1)",
		Language: "typescript",
		RoomID:   "ABC123",
	})

	require.True(t, res.Success)
	assert.Contains(t, files, "code.ts")
	assert.Contains(t, files, "input.txt")
	assert.Contains(t, files, "tsconfig.json")
	assert.Contains(t, files, "package.json")
}

func TestUpdateLimitsAndStats(t *testing.T) {
	s := newSandbox(t, t.TempDir(), func(cmd *exec.Cmd) error { return nil })

	s.UpdateLimits(Limits{Memory: "512m", DefaultTimeoutMs: 2000})
	stats := s.Stats()
	assert.Equal(t, "512m", stats.Limits.Memory)
	// Unset fields keep their previous values.
	assert.Equal(t, "0.5", stats.Limits.CPUs)
	assert.Equal(t, int64(2000), stats.Limits.DefaultTimeoutMs)
	assert.NotEmpty(t, stats.SupportedLanguages)
}

func TestResolveTimeoutPrecedence(t *testing.T) {
	s := newSandbox(t, t.TempDir(), func(cmd *exec.Cmd) error { return nil }).(*sandbox)

	assert.Equal(t, 100*time.Millisecond, s.resolveTimeout(100, 200))
	assert.Equal(t, 200*time.Millisecond, s.resolveTimeout(0, 200))
	assert.Equal(t, 5*time.Second, s.resolveTimeout(0, 0))
}
