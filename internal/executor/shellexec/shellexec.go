// ABOUTME: ActionExecutor family for local shell commands: process-group kill on timeout plus env-var filtering.
// ABOUTME: Adapted from agent/exec_local.go's ExecCommand, generalized to the router's sync/async two-phase contract.
package shellexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/router"
)

// EnvPolicy controls how environment variables are inherited by child processes.
type EnvPolicy string

const (
	EnvPolicyInheritCore EnvPolicy = "inherit_core"
	EnvPolicyInheritAll  EnvPolicy = "inherit_all"
	EnvPolicyInheritNone EnvPolicy = "inherit_none"
)

// sensitivePatterns are env var name suffixes excluded under InheritCore.
var sensitivePatterns = []string{"_API_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_CREDENTIAL"}

// safeVarNames are environment variables always included under InheritCore.
var safeVarNames = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
}

// Option configures an Executor.
type Option func(*Executor)

// WithEnvPolicy sets the environment variable inheritance policy.
func WithEnvPolicy(policy EnvPolicy) Option {
	return func(e *Executor) { e.envPolicy = policy }
}

// WithAsyncThreshold sets how long Execute waits before reporting a still-
// running command as async instead of blocking for its final result.
func WithAsyncThreshold(d time.Duration) Option {
	return func(e *Executor) { e.asyncThreshold = d }
}

// WithEnv sets explicit environment variables merged in on top of the
// inherited set (subject to the same sensitive-var filtering under InheritCore).
func WithEnv(vars map[string]string) Option {
	return func(e *Executor) { e.envVars = vars }
}

// Executor runs shell commands for the "shell" action family and tracks
// in-flight ones by command_id so ShellStatus/TerminateShell (separate
// action types routed through the same Executor) can reach them.
type Executor struct {
	workDir        string
	envPolicy      EnvPolicy
	asyncThreshold time.Duration
	envVars        map[string]string

	mu      sync.Mutex
	running map[ids.CommandID]*inflight
}

type inflight struct {
	cmd    *exec.Cmd
	done   chan struct{}
	result Result
	err    error
}

// Result is what a completed shell command reports as its ExecResult.Value.
type Result struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int    `json:"duration_ms"`
}

// New creates a shell Executor rooted at workDir.
func New(workDir string, opts ...Option) *Executor {
	e := &Executor{
		workDir:        workDir,
		envPolicy:      EnvPolicyInheritCore,
		asyncThreshold: 10 * time.Second,
		running:        make(map[ids.CommandID]*inflight),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Command returns the ActionExecutor to register under the "shell" action type.
func (e *Executor) Command() router.ActionExecutor { return commandExecutor{e} }

// Status returns the ActionExecutor to register under "shell_status".
func (e *Executor) Status() router.ActionExecutor { return statusExecutor{e} }

// Terminate returns the ActionExecutor to register under "terminate_shell".
func (e *Executor) Terminate() router.ActionExecutor { return terminateExecutor{e} }

type commandExecutor struct{ e *Executor }

func (c commandExecutor) Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (router.ExecResult, error) {
	command, _ := params["command"].(string)
	if command == "" {
		return router.ExecResult{}, fmt.Errorf("shellexec: missing required %q param", "command")
	}
	timeoutMs := intParam(params, "timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 120000
	}

	cmdID := ids.NewCommandID()
	execCtx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)

	cmd := exec.CommandContext(execCtx, "/bin/bash", "-c", command)
	cmd.Dir = c.e.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = c.e.buildEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		cancel()
		return router.ExecResult{}, fmt.Errorf("shellexec: start command: %w", err)
	}

	inf := &inflight{cmd: cmd, done: make(chan struct{})}
	c.e.mu.Lock()
	c.e.running[cmdID] = inf
	c.e.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		waitErr := cmd.Wait()
		defer cancel()
		durationMs := int(time.Since(start).Milliseconds())
		timedOut := execCtx.Err() == context.DeadlineExceeded
		if timedOut {
			killProcessGroup(cmd)
		}
		exitCode := 0
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else if !timedOut {
				exitCode = -1
			}
		}
		inf.result = Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode, TimedOut: timedOut, DurationMs: durationMs}
		close(inf.done)
	}()

	select {
	case <-finished:
		c.e.forget(cmdID)
		return router.ExecResult{Value: inf.result}, nil
	case <-time.After(c.e.asyncThreshold):
		cont := make(chan router.Continuation, 1)
		go func() {
			<-inf.done
			c.e.forget(cmdID)
			cont <- router.Continuation{Value: inf.result}
		}()
		return router.ExecResult{Async: true, CommandID: string(cmdID), Continuation: cont}, nil
	}
}

type statusExecutor struct{ e *Executor }

func (s statusExecutor) Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (router.ExecResult, error) {
	cmdID := ids.CommandID(stringParam(params, "command_id"))
	s.e.mu.Lock()
	inf, ok := s.e.running[cmdID]
	s.e.mu.Unlock()
	if !ok {
		return router.ExecResult{Value: map[string]any{"status": "not_found"}}, nil
	}
	select {
	case <-inf.done:
		return router.ExecResult{Value: map[string]any{"status": "completed", "result": inf.result}}, nil
	default:
		return router.ExecResult{Value: map[string]any{"status": "running"}}, nil
	}
}

type terminateExecutor struct{ e *Executor }

func (t terminateExecutor) Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (router.ExecResult, error) {
	cmdID := ids.CommandID(stringParam(params, "command_id"))
	t.e.mu.Lock()
	inf, ok := t.e.running[cmdID]
	t.e.mu.Unlock()
	if !ok {
		return router.ExecResult{}, fmt.Errorf("shellexec: unknown command_id %q", cmdID)
	}
	killProcessGroup(inf.cmd)
	return router.ExecResult{Value: map[string]any{"status": "terminated"}}, nil
}

func (e *Executor) forget(id ids.CommandID) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

// killProcessGroup sends SIGTERM to the command's process group, then
// SIGKILL after a short grace window, mirroring exec_local.go's shutdown.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	time.AfterFunc(2*time.Second, func() { _ = syscall.Kill(-pgid, syscall.SIGKILL) })
}

func (e *Executor) buildEnv() []string {
	switch e.envPolicy {
	case EnvPolicyInheritAll:
		return append(allEnv(), mapToEnv(e.envVars)...)
	case EnvPolicyInheritNone:
		return mapToEnv(e.envVars)
	default:
		return append(coreEnv(), mapToEnv(filterSensitive(e.envVars))...)
	}
}

func filterSensitive(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		if !isSensitiveVar(k) {
			out[k] = v
		}
	}
	return out
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// intParam accepts both int (set directly by Go callers/tests) and float64
// (the shape params decoded from JSON actually arrive in) for numeric params.
func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
