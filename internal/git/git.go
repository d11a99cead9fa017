package git

import (
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

// Commit is one entry of `git log`.
type Commit struct {
	Hash        string
	AuthorName  string
	AuthorEmail string
	Message     string
}

// Client defines the git operations `buggy scan` needs.
type Client interface {
	RepoRoot(path string) (string, error)
	RemoteURL(path string) (string, error)
	// CommitLog lists commits in revRange (for example "v1.0..HEAD"), oldest
	// first. An empty range means the whole history of HEAD.
	CommitLog(path, revRange string) ([]Commit, error)
}

// RealClient shells out to the git binary.
type RealClient struct{}

func NewClient() *RealClient { return &RealClient{} }

// Log records are "hash US author US email US body RS".
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	logFormat = "--format=%H%x1f%an%x1f%ae%x1f%B%x1e"
)

func run(dir string, args ...string) (string, error) {
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			err = errors.New(strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return run(path, "rev-parse", "--show-toplevel")
}

// RemoteURL returns the origin URL, or "" when there is no origin.
func (c *RealClient) RemoteURL(path string) (string, error) {
	if _, err := run(path, "config", "--get", "remote.origin.url"); err != nil {
		return "", nil
	}
	return run(path, "remote", "get-url", "origin")
}

func (c *RealClient) CommitLog(path, revRange string) ([]Commit, error) {
	args := []string{"log", "--reverse", logFormat}
	if revRange != "" {
		args = append(args, revRange, "--")
	}
	out, err := run(path, args...)
	if err != nil {
		return nil, err
	}
	return ParseCommitLog(out)
}

// ParseCommitLog parses `git log` output produced with logFormat.
func ParseCommitLog(output string) ([]Commit, error) {
	var commits []Commit
	for rec := range strings.SplitSeq(output, recordSep) {
		rec = strings.TrimLeft(rec, "\n")
		if strings.TrimSpace(rec) == "" {
			continue
		}
		f := strings.SplitN(rec, fieldSep, 4)
		if len(f) != 4 {
			return nil, fmt.Errorf("malformed log record %q", rec)
		}
		commits = append(commits, Commit{
			Hash:        f[0],
			AuthorName:  f[1],
			AuthorEmail: f[2],
			Message:     strings.TrimRight(f[3], "\n"),
		})
	}
	return commits, nil
}

// CommitURL returns the GitHub page for hash, or "" when the remote is not
// on GitHub.
func CommitURL(remoteURL, hash string) string {
	owner, repo, ok := GitHubRepo(remoteURL)
	if !ok {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/%s/commit/%s", owner, repo, hash)
}

// GitHubRepo extracts owner and repo from a github.com remote in scp form
// (git@github.com:owner/repo.git) or URL form (https, ssh, git).
func GitHubRepo(remoteURL string) (owner, repo string, ok bool) {
	var host, path string
	if u, err := url.Parse(remoteURL); err == nil && u.Host != "" {
		host, path = u.Hostname(), u.Path
	} else if at, rest, found := strings.Cut(remoteURL, "@"); found && !strings.Contains(at, "/") {
		host, path, _ = strings.Cut(rest, ":")
	}
	if !strings.EqualFold(host, "github.com") {
		return "", "", false
	}
	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	owner, repo, found := strings.Cut(path, "/")
	if !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}
