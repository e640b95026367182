package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/creack/pty"

	"github.com/mfateev/skillbroker/internal/execout"
)

// ExecuteInput is the Sandbox Executor's invocation contract.
//
// Maps to: spec.md §4.6 "Input: (code bytes, secrets: {name→value},
// args: {name→value}, timeout seconds, network allow-list)".
type ExecuteInput struct {
	Fingerprint    string
	Code           []byte
	Interpreter    []string // e.g. []string{"python3"} or []string{"bash"}; required
	Secrets        map[string][]byte
	Args           map[string]string
	TimeoutSeconds int
	NetworkHosts   []string // empty means no network
	ScratchDir     string   // base directory for ephemeral code files; os.TempDir() if empty

	// MemoryMB and CPULimit bound the child's resources (spec §4.6). Zero
	// takes the package defaults (DefaultMemoryMB/DefaultCPULimit); they are
	// never passed through as "unbounded".
	MemoryMB int
	CPULimit float64

	// Direct selects the "direct" deployment mode (spec §4.6): the skill is
	// run with a directly allocated controlling terminal. The command is
	// still passed through the SandboxManager's Transform exactly as in the
	// default mode; Direct changes only how output is captured. A pty
	// merges stdout and stderr into one stream; Stderr is always empty in
	// this mode.
	Direct bool
}

// ExecuteResult is the Sandbox Executor's output contract.
//
// Maps to: spec.md §4.6 "Result: {success, stdout, stderr, exit_code,
// duration_ms}".
type ExecuteResult struct {
	Success    bool
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
	TimedOut   bool
}

// ExitCodeTimeoutSentinel is returned when the child was killed for
// exceeding its wall-clock timeout (no real exit code is available).
const ExitCodeTimeoutSentinel = -1

// Executor runs skill code inside a sandbox backend and enforces the
// resource and environment allow-list contract.
//
// Grounded on the teacher's internal/tools/handlers/shell.go (sandbox
// wrapping, output capture via exec.CommandContext) generalized from "run
// one shell command with the agent's ambient tool environment" to "run one
// untrusted skill body with an additive-only, secrets-scoped environment".
type Executor struct {
	mgr SandboxManager
}

// NewExecutor constructs an Executor over the given sandbox backend.
func NewExecutor(mgr SandboxManager) *Executor {
	return &Executor{mgr: mgr}
}

// Execute runs one skill invocation end to end: persist code, launch under
// the sandbox backend, enforce the timeout, capture and cap output, clean
// up the code file. Always returns a populated ExecuteResult on success;
// errors are reserved for conditions the caller cannot attribute to the
// skill itself (failure to write the scratch file, failure to launch).
func (e *Executor) Execute(ctx context.Context, in ExecuteInput) (*ExecuteResult, error) {
	timeout := in.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	if len(in.Interpreter) == 0 {
		return nil, fmt.Errorf("sandbox executor: interpreter must not be empty")
	}

	codePath, cleanup, err := writeScratchFile(in.ScratchDir, in.Fingerprint, in.Code)
	if err != nil {
		return nil, fmt.Errorf("sandbox executor: persist code: %w", err)
	}
	defer cleanup()

	policy := &SandboxPolicy{
		Mode:              ModeReadOnly,
		NetworkAccess:     len(in.NetworkHosts) > 0,
		NetworkAllowHosts: in.NetworkHosts,
		MemoryMB:          in.MemoryMB,
		CPULimit:          in.CPULimit,
	}

	spec := CommandSpec{
		Program: in.Interpreter[0],
		Args:    append(append([]string{}, in.Interpreter[1:]...), codePath),
	}

	execEnv, err := e.mgr.Transform(spec, policy)
	if err != nil {
		return nil, fmt.Errorf("sandbox executor: transform: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, execEnv.Command[0], execEnv.Command[1:]...)
	if execEnv.Cwd != "" {
		cmd.Dir = execEnv.Cwd
	}

	sandboxVars := map[string]string{"HOME": "/tmp", "PATH": "/usr/bin:/bin"}
	for k, v := range execEnv.Env {
		sandboxVars[k] = v
	}
	cmd.Env = BuildChildEnv(in.Secrets, in.Args, sandboxVars)

	var stdoutBuf, stderrBuf bytes.Buffer
	var runErr error
	var start time.Time

	if in.Direct {
		start = time.Now()
		runErr = runWithPTY(runCtx, cmd, &stdoutBuf)
	} else {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
		start = time.Now()
		runErr = cmd.Run()
	}
	duration := time.Since(start)

	timedOut := runCtx.Err() == context.DeadlineExceeded

	stdout, _ := execout.LimitOutput(stdoutBuf.Bytes())
	stderr, _ := execout.LimitOutput(stderrBuf.Bytes())

	result := &ExecuteResult{
		Stdout:     string(stdout),
		Stderr:     string(stderr),
		DurationMs: duration.Milliseconds(),
		TimedOut:   timedOut,
	}

	if timedOut {
		result.ExitCode = ExitCodeTimeoutSentinel
		result.Success = false
		return result, nil
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Success = false
			return result, nil
		}
		return nil, fmt.Errorf("sandbox executor: launch failed: %w", runErr)
	}

	result.ExitCode = 0
	result.Success = true
	return result, nil
}

// runWithPTY starts cmd under a directly allocated controlling terminal and
// copies its combined output into out, returning once the child exits or
// ctx's deadline kills it.
func runWithPTY(ctx context.Context, cmd *exec.Cmd, out *bytes.Buffer) error {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return fmt.Errorf("sandbox executor: pty start: %w", err)
	}
	defer ptmx.Close()

	copyDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(out, ptmx)
		close(copyDone)
	}()

	waitErr := cmd.Wait()
	<-copyDone // the pty read loop exits once the child closes its end

	if ctx.Err() == context.DeadlineExceeded {
		return ctx.Err()
	}
	return waitErr
}

func writeScratchFile(baseDir, fingerprint string, code []byte) (path string, cleanup func(), err error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	name := fingerprint
	if name == "" {
		name = "anon"
	}
	path = filepath.Join(baseDir, "skill-"+name+".run")
	if err := os.WriteFile(path, code, 0o400); err != nil {
		return "", nil, err
	}
	return path, func() { _ = os.Remove(path) }, nil
}
