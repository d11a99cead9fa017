package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a git repo in dir with a user config so commits work on CI.
func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	cmds := [][]string{
		{"git", "-C", dir, "init"},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
}

func TestParseCommitLog(t *testing.T) {
	input := "abc123\x1fAda\x1fada@example.com\x1fFix #15\n\nLonger body\n\x1e\n" +
		"def456\x1fGrace\x1fgrace@example.com\x1fsee #23\n\x1e"

	commits, err := ParseCommitLog(input)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, "abc123", commits[0].Hash)
	assert.Equal(t, "Ada", commits[0].AuthorName)
	assert.Equal(t, "ada@example.com", commits[0].AuthorEmail)
	assert.Equal(t, "Fix #15\n\nLonger body", commits[0].Message)
	assert.Equal(t, "def456", commits[1].Hash)
	assert.Equal(t, "see #23", commits[1].Message)
}

func TestParseCommitLog_Empty(t *testing.T) {
	commits, err := ParseCommitLog("")
	require.NoError(t, err)
	assert.Nil(t, commits)
}

func TestParseCommitLog_Malformed(t *testing.T) {
	_, err := ParseCommitLog("abc123\x1fAda\x1e")
	assert.Error(t, err)
}

func TestRealClient_CommitLog(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0644))
	require.NoError(t, exec.Command("git", "-C", dir, "add", ".").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "-m", "first").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "tag", "v1").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "Fixes #15\n\nbody").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "third").Run())

	c := NewClient()

	all, err := c.CommitLog(dir, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Message)
	assert.Equal(t, "test@test.com", all[0].AuthorEmail)
	assert.Len(t, all[0].Hash, 40)

	since, err := c.CommitLog(dir, "v1..HEAD")
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "Fixes #15\n\nbody", since[0].Message)
	assert.Equal(t, "third", since[1].Message)

	_, err = c.CommitLog(dir, "nope..HEAD")
	assert.Error(t, err)
}

func TestRealClient_RemoteURL_None(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)

	url, err := NewClient().RemoteURL(dir)
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestGitHubRepo(t *testing.T) {
	tests := []struct {
		remote      string
		owner, repo string
		ok          bool
	}{
		{"git@github.com:joescharf/buggy.git", "joescharf", "buggy", true},
		{"https://github.com/joescharf/buggy.git", "joescharf", "buggy", true},
		{"https://github.com/joescharf/buggy", "joescharf", "buggy", true},
		{"ssh://git@github.com/joescharf/buggy.git", "joescharf", "buggy", true},
		{"https://gitlab.com/joescharf/buggy.git", "", "", false},
		{"git@gitlab.com:joescharf/buggy.git", "", "", false},
		{"https://github.com/joescharf", "", "", false},
		{"not-a-url", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			owner, repo, ok := GitHubRepo(tt.remote)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestCommitURL(t *testing.T) {
	assert.Equal(t, "https://github.com/joescharf/buggy/commit/abc",
		CommitURL("git@github.com:joescharf/buggy.git", "abc"))
	assert.Empty(t, CommitURL("", "abc"))
}
