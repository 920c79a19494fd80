package git

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// BudgetError reports a patch rejected by a size budget before it reached git.
type BudgetError struct {
	Reason string
}

func (e *BudgetError) Error() string {
	return e.Reason
}

// IsBudgetError reports whether err is a BudgetError.
func IsBudgetError(err error) bool {
	var be *BudgetError
	return errors.As(err, &be)
}

// Budgets bound the patches an Applier accepts. Zero disables a limit.
type Budgets struct {
	MaxPatchKB      int
	MaxChangedFiles int
}

// Applier replays sandbox diffs onto the host source tree.
type Applier struct {
	RepoRoot string
	Budgets  Budgets
}

// NewApplier returns an Applier for repoRoot.
func NewApplier(repoRoot string, budgets Budgets) *Applier {
	return &Applier{RepoRoot: repoRoot, Budgets: budgets}
}

// CheckApply enforces budgets and runs "git apply --check".
func (a *Applier) CheckApply(ctx context.Context, diff string) (string, error) {
	if err := a.checkBudgets(diff); err != nil {
		return "", err
	}
	return a.apply(ctx, diff, "--check")
}

// Apply runs "git apply". Callers run CheckApply first.
func (a *Applier) Apply(ctx context.Context, diff string) (string, error) {
	out, err := a.apply(ctx, diff)
	if err != nil {
		return out, err
	}
	log.Info().Str("repo_root", a.RepoRoot).Int("changed_files", CountChangedFiles(diff)).Msg("patch applied to source tree")
	return out, nil
}

func (a *Applier) apply(ctx context.Context, diff string, extra ...string) (string, error) {
	if strings.TrimSpace(diff) == "" {
		return "", fmt.Errorf("git apply: empty patch")
	}
	args := append([]string{"apply", "--whitespace=nowarn"}, extra...)
	return RunWithInput(ctx, a.RepoRoot, strings.NewReader(diff), append(args, "-")...)
}

func (a *Applier) checkBudgets(diff string) error {
	if a.Budgets.MaxPatchKB > 0 && len(diff) > a.Budgets.MaxPatchKB*1024 {
		return &BudgetError{Reason: "patch exceeds max_patch_kb"}
	}
	if a.Budgets.MaxChangedFiles > 0 && CountChangedFiles(diff) > a.Budgets.MaxChangedFiles {
		return &BudgetError{Reason: "patch exceeds max_changed_files"}
	}
	return nil
}

// CountChangedFiles counts distinct "diff --git" targets in a patch.
func CountChangedFiles(diff string) int {
	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	seen := make(map[string]struct{})
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "diff --git ") {
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				seen[strings.TrimPrefix(parts[3], "b/")] = struct{}{}
			}
		}
	}
	return len(seen)
}
