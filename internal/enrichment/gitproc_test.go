package enrichment

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a temp git repository with two commits touching
// a.go, used to exercise the real git subprocess calls this package
// deliberately relies on instead of a pure-Go git implementation.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=tester", "GIT_AUTHOR_EMAIL=tester@example.com",
			"GIT_COMMITTER_NAME=tester", "GIT_COMMITTER_EMAIL=tester@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}

	run("init", "-q")
	run("config", "user.email", "tester@example.com")
	run("config", "user.name", "tester")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc A() {}\n"), 0o644))
	run("add", "a.go")
	run("commit", "-q", "-m", "initial commit")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc A() {}\n\nfunc B() {}\n"), 0o644))
	run("add", "a.go")
	run("commit", "-q", "-m", "fix: add B")

	return dir
}

func TestResolveGitRoot(t *testing.T) {
	dir := initTestRepo(t)
	root, err := ResolveGitRoot(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEmpty(t, root)
}

func TestResolveGitRootFailsOutsideRepo(t *testing.T) {
	_, err := ResolveGitRoot(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestReadChurnSinceParsesCommitsAndNumstat(t *testing.T) {
	dir := initTestRepo(t)
	since := time.Now().Add(-24 * time.Hour)

	gitMap, err := ReadChurnSince(context.Background(), dir, since)
	require.NoError(t, err)

	data, ok := gitMap["a.go"]
	require.True(t, ok)
	require.Len(t, data.Commits, 2)
	assert.Equal(t, "tester", data.Commits[0].Author)

	var totalAdded int
	for _, c := range data.Commits {
		totalAdded += c.LinesAdded
	}
	assert.Greater(t, totalAdded, 0)
}

func TestReadChurnForPathsIgnoresSinceBound(t *testing.T) {
	dir := initTestRepo(t)
	gitMap, err := ReadChurnForPaths(context.Background(), dir, []string{"a.go"}, time.Second)
	require.NoError(t, err)
	assert.Len(t, gitMap["a.go"].Commits, 2)
}

func TestReadChurnForPathsEmptyPaths(t *testing.T) {
	gitMap, err := ReadChurnForPaths(context.Background(), t.TempDir(), nil, time.Second)
	require.NoError(t, err)
	assert.Empty(t, gitMap)
}

func TestReadChunkChurnRestrictsToLineRange(t *testing.T) {
	dir := initTestRepo(t)
	commits, err := ReadChunkChurn(context.Background(), dir, "a.go", 1, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, commits)
}
