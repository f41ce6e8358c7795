// Package sandbox runs untrusted code to completion inside isolated,
// resource-bounded docker containers.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/collabcode/collabd/src/collabd/entity"
	"github.com/collabcode/collabd/src/collabd/internal/clock"
	"github.com/collabcode/collabd/src/collabd/internal/executor"
	"github.com/collabcode/collabd/src/collabd/internal/fs"
	"github.com/collabcode/collabd/src/collabd/internal/runtimes"
	"github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeySandbox = "sandbox"

	// Fixed path at which the workspace is bind-mounted inside the container.
	_containerWorkdir = "/workspace"

	// Grace period for the docker client to exit after a kill before Wait
	// gives up on its pipes.
	_waitDelay = 2 * time.Second
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Limits are the administratively tunable execution bounds. They may be
// updated at runtime without affecting in-flight runs.
type Limits struct {
	Memory           string `yaml:"memory"`
	CPUs             string `yaml:"cpus"`
	DefaultTimeoutMs int64  `yaml:"defaultTimeoutMs"`
}

// Stats reports the current limits and language catalog.
type Stats struct {
	SupportedLanguages []entity.LanguageInfo `json:"supportedLanguages"`
	Limits             Limits                `json:"limits"`
}

// Sandbox executes one request to completion. Runs are fully independent of
// each other; the only shared state is the read-only runtime catalog and the
// tunable limits.
type Sandbox interface {
	// Execute runs the request and always produces a result, including on
	// sandbox-internal failure and timeout.
	Execute(ctx context.Context, req entity.ExecutionRequest) entity.ExecutionResult
	// UpdateLimits replaces the tunable execution bounds.
	UpdateLimits(limits Limits)
	// Stats returns the current limits and catalog.
	Stats() Stats
}

// Params are inbound parameters to construct the sandbox.
type Params struct {
	fx.In

	Config   config.Provider
	Logger   *zap.SugaredLogger
	Executor executor.Executor
	FS       fs.WorkspaceFS
	Clock    clock.Clock
	Runtimes runtimes.Table
	Scope    tally.Scope
}

type sandboxConfig struct {
	WorkspaceRoot    string `yaml:"workspaceRoot"`
	Memory           string `yaml:"memory"`
	CPUs             string `yaml:"cpus"`
	DefaultTimeoutMs int64  `yaml:"defaultTimeoutMs"`
}

type sandbox struct {
	root     string
	logger   *zap.SugaredLogger
	executor executor.Executor
	fs       fs.WorkspaceFS
	clock    clock.Clock
	runtimes runtimes.Table
	stats    tally.Scope

	limitsMu sync.Mutex
	limits   Limits
}

// New constructs the sandbox, creates its workspace root, and probes docker
// availability. A missing docker binary is logged, not fatal; every later run
// will produce a structured failure result.
func New(p Params) (Sandbox, error) {
	var cfg sandboxConfig
	if err := p.Config.Get(_configKeySandbox).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeySandbox, err)
	}
	if cfg.WorkspaceRoot == "" {
		return nil, fmt.Errorf("missing field %q in config", _configKeySandbox+".workspaceRoot")
	}
	root, err := resolveRoot(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := p.FS.MkdirAll(root); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	s := &sandbox{
		root:     root,
		logger:   p.Logger,
		executor: p.Executor,
		fs:       p.FS,
		clock:    p.Clock,
		runtimes: p.Runtimes,
		stats:    p.Scope.SubScope("sandbox"),
		limits: Limits{
			Memory:           cfg.Memory,
			CPUs:             cfg.CPUs,
			DefaultTimeoutMs: cfg.DefaultTimeoutMs,
		},
	}
	if s.limits.Memory == "" {
		s.limits.Memory = "256m"
	}
	if s.limits.CPUs == "" {
		s.limits.CPUs = "1.0"
	}
	if s.limits.DefaultTimeoutMs <= 0 {
		s.limits.DefaultTimeoutMs = 10000
	}

	if _, _, _, err := s.executor.Run(exec.Command("docker", "--version")); err != nil {
		s.logger.Warnw("docker is not available, executions will fail", "error", err)
	} else {
		s.logger.Infow("docker is available", "workspaceRoot", root)
	}

	return s, nil
}

func (s *sandbox) Execute(ctx context.Context, req entity.ExecutionRequest) entity.ExecutionResult {
	start := s.clock.Now()
	s.stats.Counter("executions").Inc(1)

	profile, ok := s.runtimes.Profile(req.Language)
	if !ok {
		s.stats.Counter("unsupported_language").Inc(1)
		return s.failure(req, start, fmt.Sprintf("unsupported language: %s", req.Language))
	}

	dir, err := s.createWorkspace()
	if err != nil {
		return s.failure(req, start, fmt.Sprintf("allocating workspace: %v", err))
	}
	defer s.cleanupWorkspace(dir)

	if err := s.materialize(dir, profile, req.Code); err != nil {
		return s.failure(req, start, fmt.Sprintf("preparing workspace: %v", err))
	}

	timeout := s.resolveTimeout(req.TimeoutMs, profile.TimeoutMs)
	memory, cpus := s.currentResourceLimits()

	// The context deadline is the authoritative wall-clock bound, independent
	// of whatever timeout the recipe itself applies.
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "docker", dockerArgs(profile.Image, profile.Command, dir, memory, cpus)...)
	cmd.WaitDelay = _waitDelay
	stdout, stderr, exitCode, runErr := s.executor.Run(cmd)
	elapsed := s.clock.Since(start)
	s.stats.Timer("duration").Record(elapsed)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		s.stats.Counter("timeouts").Inc(1)
		return entity.ExecutionResult{
			Success:   false,
			Error:     fmt.Sprintf("process timed out after %dms", timeout.Milliseconds()),
			ExitCode:  -1,
			ElapsedMs: elapsed.Milliseconds(),
			Language:  req.Language,
			RoomID:    req.RoomID,
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The process never ran; its recipe's own diagnostics do not apply.
			s.stats.Counter("launch_failures").Inc(1)
			return s.failure(req, start, fmt.Sprintf("starting sandboxed process: %v", runErr))
		}
	}

	// A completed run is a success regardless of exit code; compiler and
	// interpreter errors travel as stderr content.
	return entity.ExecutionResult{
		Success:   true,
		Output:    strings.TrimSpace(stdout),
		Error:     strings.TrimSpace(stderr),
		ExitCode:  exitCode,
		ElapsedMs: elapsed.Milliseconds(),
		Language:  req.Language,
		RoomID:    req.RoomID,
	}
}

func (s *sandbox) UpdateLimits(limits Limits) {
	s.limitsMu.Lock()
	defer s.limitsMu.Unlock()

	if limits.Memory != "" {
		s.limits.Memory = limits.Memory
	}
	if limits.CPUs != "" {
		s.limits.CPUs = limits.CPUs
	}
	if limits.DefaultTimeoutMs > 0 {
		s.limits.DefaultTimeoutMs = limits.DefaultTimeoutMs
	}
	s.logger.Infow("updated execution limits",
		"memory", s.limits.Memory,
		"cpus", s.limits.CPUs,
		"defaultTimeoutMs", s.limits.DefaultTimeoutMs,
	)
}

func (s *sandbox) Stats() Stats {
	s.limitsMu.Lock()
	limits := s.limits
	s.limitsMu.Unlock()

	return Stats{
		SupportedLanguages: s.runtimes.Languages(),
		Limits:             limits,
	}
}

// resolveTimeout picks the effective wall-clock bound: a positive caller
// override wins, then the profile's own override, then the component default.
func (s *sandbox) resolveTimeout(callerMs, profileMs int64) time.Duration {
	s.limitsMu.Lock()
	defaultMs := s.limits.DefaultTimeoutMs
	s.limitsMu.Unlock()

	switch {
	case callerMs > 0:
		return time.Duration(callerMs) * time.Millisecond
	case profileMs > 0:
		return time.Duration(profileMs) * time.Millisecond
	default:
		return time.Duration(defaultMs) * time.Millisecond
	}
}

func (s *sandbox) currentResourceLimits() (memory, cpus string) {
	s.limitsMu.Lock()
	defer s.limitsMu.Unlock()

	return s.limits.Memory, s.limits.CPUs
}

func (s *sandbox) failure(req entity.ExecutionRequest, start time.Time, msg string) entity.ExecutionResult {
	s.stats.Counter("failures").Inc(1)
	return entity.ExecutionResult{
		Success:   false,
		Error:     msg,
		ExitCode:  -1,
		ElapsedMs: s.clock.Since(start).Milliseconds(),
		Language:  req.Language,
		RoomID:    req.RoomID,
	}
}

// dockerArgs assembles the isolation flags for a single run: memory and CPU
// ceilings, no network, all capabilities dropped, privilege escalation
// disabled, and the workspace bind-mounted read-write as the working
// directory.
func dockerArgs(image, command, dir, memory, cpus string) []string {
	return []string{
		"run",
		"--rm",
		"--memory", memory,
		"--cpus", cpus,
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"-v", dir + ":" + _containerWorkdir + ":rw",
		"--workdir", _containerWorkdir,
		image,
		"sh", "-c", command,
	}
}
