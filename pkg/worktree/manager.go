// Package worktree manages per-task git worktrees. Each task gets an
// isolated working tree at <projectRoot>/<worktreesDir>/<taskId> on a branch
// <prefix>/task-<taskId> forked from the base branch. Merges back into the
// base branch are serialized by the caller.
package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// minGitMajor/minGitMinor is the oldest git this manager supports.
// `git worktree remove` appeared in 2.17; we require 2.20 for the fixes to
// worktree pruning that followed.
const (
	minGitMajor = 2
	minGitMinor = 20
)

// Info describes one task worktree.
type Info struct {
	TaskID string `json:"task_id"`
	Branch string `json:"branch"`
	Path   string `json:"path"`
}

// ConflictReport is the result of a merge simulation.
type ConflictReport struct {
	TaskID           string   `json:"task_id"`
	TargetBranch     string   `json:"target_branch"`
	HasConflicts     bool     `json:"has_conflicts"`
	ConflictingFiles []string `json:"conflicting_files,omitempty"`
}

// MergeResult is the outcome of merging a task branch.
type MergeResult struct {
	Success     bool            `json:"success"`
	MergedFiles []string        `json:"merged_files,omitempty"`
	Conflicts   *ConflictReport `json:"conflicts,omitempty"`
}

// Manager creates and destroys task worktrees in one repository.
type Manager struct {
	projectRoot  string
	worktreesDir string
	branchPrefix string
	baseBranch   string
}

// NewManager creates a Manager. worktreesDir is relative to projectRoot.
func NewManager(projectRoot, worktreesDir, branchPrefix, baseBranch string) *Manager {
	return &Manager{
		projectRoot:  projectRoot,
		worktreesDir: worktreesDir,
		branchPrefix: branchPrefix,
		baseBranch:   baseBranch,
	}
}

// BranchName returns the task's branch name.
func (m *Manager) BranchName(taskID string) string {
	return m.branchPrefix + "/task-" + taskID
}

// WorktreePath returns the task's on-disk worktree path.
func (m *Manager) WorktreePath(taskID string) string {
	return filepath.Join(m.projectRoot, m.worktreesDir, taskID)
}

// VerifyGitVersion asserts that git is present and at least 2.20.
func (m *Manager) VerifyGitVersion(ctx context.Context) error {
	out, err := m.git(ctx, "", "version")
	if err != nil {
		return fmt.Errorf("%w: git binary not found on PATH", ErrGitUnavailable)
	}
	major, minor, ok := parseGitVersion(out)
	if !ok {
		return fmt.Errorf("%w: cannot parse %q", ErrGitUnavailable, strings.TrimSpace(out))
	}
	if major < minGitMajor || (major == minGitMajor && minor < minGitMinor) {
		return fmt.Errorf("%w: git %d.%d found, need >= %d.%d",
			ErrGitUnavailable, major, minor, minGitMajor, minGitMinor)
	}
	return nil
}

// Create makes a new branch off baseBranch (or the manager default) and a
// worktree for it. The half-created state on failure is cleaned up.
func (m *Manager) Create(ctx context.Context, taskID, baseBranch string) (*Info, error) {
	if baseBranch == "" {
		baseBranch = m.baseBranch
	}
	info := &Info{
		TaskID: taskID,
		Branch: m.BranchName(taskID),
		Path:   m.WorktreePath(taskID),
	}

	if _, err := os.Stat(info.Path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorktreeExists, info.Path)
	}
	if err := os.MkdirAll(filepath.Dir(info.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	if _, err := m.git(ctx, "", "worktree", "add", "-b", info.Branch, info.Path, baseBranch); err != nil {
		// A failed add can leave a branch behind.
		_, _ = m.git(ctx, "", "branch", "-D", info.Branch)
		return nil, fmt.Errorf("failed to create worktree for task %s: %w", taskID, err)
	}

	slog.Debug("Created worktree", "task_id", taskID, "branch", info.Branch, "path", info.Path)
	return info, nil
}

// Cleanup removes the task's worktree and branch. Partial state (branch
// without worktree, stale directory) is tolerated.
func (m *Manager) Cleanup(ctx context.Context, taskID string) error {
	path := m.WorktreePath(taskID)
	branch := m.BranchName(taskID)

	if _, err := m.git(ctx, "", "worktree", "remove", "--force", path); err != nil {
		// The worktree may be gone already; remove the directory by hand
		// and let prune fix the bookkeeping.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("failed to remove worktree %s: %w", path, rmErr)
		}
		_, _ = m.git(ctx, "", "worktree", "prune")
	}
	// The branch may not exist if creation failed halfway.
	_, _ = m.git(ctx, "", "branch", "-D", branch)

	slog.Debug("Cleaned up worktree", "task_id", taskID, "path", path)
	return nil
}

// CleanupAll destroys every worktree under the worktrees directory and
// returns how many were removed. Used by crash recovery.
func (m *Manager) CleanupAll(ctx context.Context) (int, error) {
	root := filepath.Join(m.projectRoot, m.worktreesDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan worktrees directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := m.Cleanup(ctx, entry.Name()); err != nil {
			slog.Warn("Failed to clean up worktree", "task_id", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// DetectConflicts simulates merging the task branch into targetBranch with a
// no-commit no-ff merge inside a throwaway worktree of the target, collects
// the conflicting files, and aborts.
func (m *Manager) DetectConflicts(ctx context.Context, taskID, targetBranch string) (*ConflictReport, error) {
	if targetBranch == "" {
		targetBranch = m.baseBranch
	}
	report := &ConflictReport{TaskID: taskID, TargetBranch: targetBranch}
	branch := m.BranchName(taskID)

	probe, err := os.MkdirTemp("", "substrate-merge-probe-")
	if err != nil {
		return nil, fmt.Errorf("failed to create merge probe dir: %w", err)
	}
	probePath := filepath.Join(probe, "wt")
	defer func() {
		_, _ = m.git(ctx, "", "worktree", "remove", "--force", probePath)
		_ = os.RemoveAll(probe)
	}()

	if _, err := m.git(ctx, "", "worktree", "add", "--detach", probePath, targetBranch); err != nil {
		return nil, fmt.Errorf("failed to check out %s for conflict detection: %w", targetBranch, err)
	}

	_, mergeErr := m.git(ctx, probePath, "merge", "--no-commit", "--no-ff", branch)
	if mergeErr != nil {
		files, listErr := m.git(ctx, probePath, "diff", "--name-only", "--diff-filter=U")
		_, _ = m.git(ctx, probePath, "merge", "--abort")
		if listErr != nil {
			return nil, fmt.Errorf("merge simulation failed for task %s: %w", taskID, mergeErr)
		}
		report.HasConflicts = true
		report.ConflictingFiles = splitLines(files)
		return report, nil
	}

	_, _ = m.git(ctx, probePath, "merge", "--abort")
	return report, nil
}

// Merge detects conflicts first, then performs a real no-ff merge of the task
// branch into targetBranch. On conflicts the merge is not attempted and the
// report rides back in the result.
func (m *Manager) Merge(ctx context.Context, taskID, targetBranch string) (*MergeResult, error) {
	if targetBranch == "" {
		targetBranch = m.baseBranch
	}
	report, err := m.DetectConflicts(ctx, taskID, targetBranch)
	if err != nil {
		return nil, err
	}
	if report.HasConflicts {
		return &MergeResult{Success: false, Conflicts: report}, nil
	}

	branch := m.BranchName(taskID)
	before, err := m.git(ctx, "", "rev-parse", targetBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", targetBranch, err)
	}

	// Merge in a detached worktree of the target so the user's checkout is
	// never touched, then fast-forward the target ref.
	probe, err := os.MkdirTemp("", "substrate-merge-")
	if err != nil {
		return nil, fmt.Errorf("failed to create merge dir: %w", err)
	}
	probePath := filepath.Join(probe, "wt")
	defer func() {
		_, _ = m.git(ctx, "", "worktree", "remove", "--force", probePath)
		_ = os.RemoveAll(probe)
	}()

	if _, err := m.git(ctx, "", "worktree", "add", "--detach", probePath, targetBranch); err != nil {
		return nil, fmt.Errorf("failed to check out %s for merge: %w", targetBranch, err)
	}
	if _, err := m.git(ctx, probePath, "merge", "--no-ff", "-m",
		fmt.Sprintf("Merge task %s", taskID), branch); err != nil {
		_, _ = m.git(ctx, probePath, "merge", "--abort")
		return nil, fmt.Errorf("%w: merge of task %s into %s failed: %v",
			ErrMergeConflict, taskID, targetBranch, err)
	}
	merged, err := m.git(ctx, probePath, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve merge commit: %w", err)
	}
	if _, err := m.git(ctx, "", "update-ref",
		"refs/heads/"+targetBranch, strings.TrimSpace(merged), strings.TrimSpace(before)); err != nil {
		return nil, fmt.Errorf("failed to advance %s: %w", targetBranch, err)
	}

	files, err := m.git(ctx, "", "diff", "--name-only",
		strings.TrimSpace(before), strings.TrimSpace(merged))
	if err != nil {
		return nil, fmt.Errorf("failed to list merged files: %w", err)
	}

	slog.Info("Merged task branch", "task_id", taskID, "target", targetBranch,
		"files", len(splitLines(files)))
	return &MergeResult{Success: true, MergedFiles: splitLines(files)}, nil
}

// List returns the active worktrees under the worktrees directory by
// scanning the filesystem. No database involved.
func (m *Manager) List() ([]Info, error) {
	root := filepath.Join(m.projectRoot, m.worktreesDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan worktrees directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		infos = append(infos, Info{
			TaskID: entry.Name(),
			Branch: m.BranchName(entry.Name()),
			Path:   filepath.Join(root, entry.Name()),
		})
	}
	return infos, nil
}

// git runs one git command. dir selects the working tree; empty means the
// project root.
func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir == "" {
		dir = m.projectRoot
	}
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %v: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// parseGitVersion extracts major.minor from "git version 2.43.0" style
// output.
func parseGitVersion(out string) (major, minor int, ok bool) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) < 3 {
		return 0, 0, false
	}
	parts := strings.Split(fields[2], ".")
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
