package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metalagman/bendover/internal/git"
	"github.com/metalagman/bendover/internal/logging"
	"github.com/rs/zerolog/log"
)

const (
	defaultShell          = "bash"
	defaultCommandTimeout = 5 * time.Minute
	timeoutExitCode       = 124
)

// LocalConfig configures a Local sandbox.
type LocalConfig struct {
	// Root is the directory session worktrees are created under. Empty means os.TempDir.
	Root           string
	Shell          string
	CommandTimeout time.Duration
	// KeepWorkspace leaves the worktree on disk after Stop.
	KeepWorkspace bool
}

// Local runs each session in a detached git worktree on the host.
type Local struct {
	cfg LocalConfig

	mu       sync.Mutex
	repoRoot string
	dir      string
}

// NewLocal returns a Local sandbox.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	return &Local{cfg: cfg}
}

// Start mounts a fresh worktree of settings.WorkingDir at settings.BaseCommit.
func (l *Local) Start(ctx context.Context, settings Settings) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dir != "" {
		return fmt.Errorf("sandbox already started at %s", l.dir)
	}
	repoRoot, err := filepath.Abs(settings.WorkingDir)
	if err != nil {
		return fmt.Errorf("resolve working dir: %w", err)
	}
	root := l.cfg.Root
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create sandbox root: %w", err)
	}
	dir := filepath.Join(root, "sandbox-"+uuid.NewString()[:8])
	if err := git.AddDetachedWorktree(ctx, repoRoot, dir, settings.BaseCommit); err != nil {
		return err
	}
	l.repoRoot = repoRoot
	l.dir = dir
	log.Debug().Str("dir", dir).Str("base", settings.BaseCommit).Msg("sandbox started")
	return nil
}

// Dir returns the worktree path, or "" before Start.
func (l *Local) Dir() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dir
}

// Stop removes the worktree. Calling Stop on a stopped sandbox is a no-op.
func (l *Local) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dir == "" {
		return nil
	}
	dir := l.dir
	l.dir = ""
	if l.cfg.KeepWorkspace {
		log.Info().Str("dir", dir).Msg("keeping sandbox worktree")
		return nil
	}
	return git.RemoveWorktree(ctx, l.repoRoot, dir)
}

// RunCommand runs command through the configured shell inside the worktree.
func (l *Local) RunCommand(ctx context.Context, command string) (Result, error) {
	dir := l.Dir()
	if dir == "" {
		return Result{}, errors.New("sandbox not started")
	}
	return l.runShell(ctx, dir, command)
}

func (l *Local) runShell(ctx context.Context, dir, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	cmdCtx, cancel := context.WithTimeout(ctx, l.cfg.CommandTimeout)
	defer cancel()

	var out capture
	if logging.DebugEnabled() {
		out.tee = logging.DebugWriter()
	}
	cmd := exec.CommandContext(cmdCtx, l.cfg.Shell, "-c", command)
	cmd.Dir = dir
	cmd.Stdout = out.stream(&out.stdout)
	cmd.Stderr = out.stream(&out.stderr)

	log.Debug().Str("dir", dir).Str("command", command).Msg("sandbox command")
	start := time.Now()
	err := cmd.Run()
	res := out.result()
	res.Duration = time.Since(start)

	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("command timed out after %s\n", l.cfg.CommandTimeout)
		res.ExitCode = timeoutExitCode
		res.Stderr += msg
		res.Combined += msg
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("run %s: %w", l.cfg.Shell, err)
}

// capture collects stdout and stderr separately and interleaved.
type capture struct {
	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	combined bytes.Buffer
	tee      io.Writer
}

type captureStream struct {
	c   *capture
	dst *bytes.Buffer
}

func (s captureStream) Write(p []byte) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.dst.Write(p)
	s.c.combined.Write(p)
	if s.c.tee != nil {
		_, _ = s.c.tee.Write(p)
	}
	return len(p), nil
}

func (c *capture) stream(dst *bytes.Buffer) captureStream {
	return captureStream{c: c, dst: dst}
}

func (c *capture) result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{
		Stdout:   c.stdout.String(),
		Stderr:   c.stderr.String(),
		Combined: c.combined.String(),
	}
}
