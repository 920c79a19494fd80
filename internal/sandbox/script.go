package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/metalagman/bendover/internal/candidate"
	"github.com/metalagman/bendover/internal/shellpolicy"
	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
)

// RunScript executes a candidate body in-process with the worktree as its root.
// Script errors become exit code 1 with the error text on stderr.
func (l *Local) RunScript(ctx context.Context, body string) (Result, error) {
	dir := l.Dir()
	if dir == "" {
		return Result{}, errors.New("sandbox not started")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var out capture
	stdout := out.stream(&out.stdout)
	stderr := out.stream(&out.stderr)

	rt := &scriptRuntime{ctx: ctx, local: l, dir: dir, stdout: stdout}
	thread := &starlark.Thread{
		Name: "candidate",
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(stdout, msg)
		},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	start := time.Now()
	_, err := starlark.ExecFileOptions(candidate.FileOptions, thread, "candidate.star", body, rt.builtins())
	res := out.result()
	res.Duration = time.Since(start)

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if rt.fatal != nil {
		return res, rt.fatal
	}
	if err != nil {
		msg := err.Error()
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			msg = evalErr.Backtrace()
		}
		fmt.Fprintln(stderr, msg)
		res = out.result()
		res.Duration = time.Since(start)
		res.ExitCode = 1
		log.Debug().Str("error", msg).Msg("candidate script failed")
	}
	return res, nil
}

type scriptRuntime struct {
	ctx    context.Context
	local  *Local
	dir    string
	stdout captureStream
	// fatal is an infrastructure error that must not be reported as a script failure.
	fatal error
}

func (rt *scriptRuntime) builtins() starlark.StringDict {
	return starlark.StringDict{
		candidate.ToolWriteFile:  starlark.NewBuiltin(candidate.ToolWriteFile, rt.writeFile),
		candidate.ToolDeleteFile: starlark.NewBuiltin(candidate.ToolDeleteFile, rt.deleteFile),
		candidate.ToolReadFile:   starlark.NewBuiltin(candidate.ToolReadFile, rt.readFile),
		candidate.ToolListFiles:  starlark.NewBuiltin(candidate.ToolListFiles, rt.listFiles),
		candidate.ToolShell:      starlark.NewBuiltin(candidate.ToolShell, rt.sh),
		candidate.ToolComplete:   starlark.NewBuiltin(candidate.ToolComplete, rt.complete),
	}
}

// resolve maps a worktree-relative path to an absolute one, refusing escapes and .git.
func (rt *scriptRuntime) resolve(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is empty")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q must be relative to the repository root", p)
	}
	abs := filepath.Join(rt.dir, p)
	rel, err := filepath.Rel(rt.dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the repository root", p)
	}
	if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is inside .git", p)
	}
	return abs, nil
}

func (rt *scriptRuntime) writeFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, content string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "content", &content); err != nil {
		return nil, err
	}
	abs, err := rt.resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func (rt *scriptRuntime) deleteFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	abs, err := rt.resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func (rt *scriptRuntime) readFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	abs, err := rt.resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(data), nil
}

func (rt *scriptRuntime) listFiles(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	path := "."
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path?", &path); err != nil {
		return nil, err
	}
	root := rt.dir
	if path != "." && path != "" {
		abs, err := rt.resolve(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		root = abs
	}
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(rt.dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	sort.Strings(files)
	values := make([]starlark.Value, len(files))
	for i, f := range files {
		values[i] = starlark.String(f)
	}
	return starlark.NewList(values), nil
}

func (rt *scriptRuntime) sh(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "command", &command); err != nil {
		return nil, err
	}
	if ok, reason := shellpolicy.TryValidateAllowedForEngineer(command); !ok {
		return nil, fmt.Errorf("%s: %s", b.Name(), reason)
	}
	// Build and test commands run once after the script, as the turn's verification.
	if shellpolicy.Classify(command).Kind == shellpolicy.Verification {
		fmt.Fprintf(rt.stdout, "%s: %q deferred to verification\n", b.Name(), command)
		return starlark.String(""), nil
	}
	res, err := rt.local.runShell(rt.ctx, rt.dir, command)
	if err != nil {
		rt.fatal = err
		return nil, err
	}
	_, _ = rt.stdout.Write([]byte(res.Combined))
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s: %q exited with code %d", b.Name(), command, res.ExitCode)
	}
	return starlark.String(res.Stdout), nil
}

func (rt *scriptRuntime) complete(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	summary := ""
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "summary?", &summary); err != nil {
		return nil, err
	}
	fmt.Fprintf(rt.stdout, "complete: %s\n", summary)
	return starlark.None, nil
}
