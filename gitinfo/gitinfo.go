// Package gitinfo reads the checked-out state of the repository the check
// sessions operate on, so every run can be tied back to a commit.
package gitinfo

import (
	"fmt"

	"github.com/go-git/go-git/v5"
)

// Info describes the HEAD of a repository.
type Info struct {
	Commit string
	Branch string
}

// Describe opens the repository at repoDir and resolves its HEAD. A detached
// HEAD reports the branch as "HEAD".
func Describe(repoDir string) (*Info, error) {
	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	return &Info{
		Commit: ref.Hash().String(),
		Branch: ref.Name().Short(),
	}, nil
}

// ShortCommit returns the abbreviated commit hash.
func (i *Info) ShortCommit() string {
	if len(i.Commit) < 8 {
		return i.Commit
	}
	return i.Commit[:8]
}
