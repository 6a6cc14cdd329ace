package worktree

import "errors"

var (
	// ErrGitUnavailable indicates the git binary is missing or too old.
	ErrGitUnavailable = errors.New("git unavailable")

	// ErrWorktreeExists indicates a worktree for the task already exists.
	ErrWorktreeExists = errors.New("worktree already exists")

	// ErrWorktreeNotFound indicates no worktree exists for the task.
	ErrWorktreeNotFound = errors.New("worktree not found")

	// ErrMergeConflict indicates a merge was refused because conflict
	// detection found conflicting files.
	ErrMergeConflict = errors.New("merge conflict")
)
