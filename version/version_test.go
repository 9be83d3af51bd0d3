package version

import "testing"

func TestGetUsesLdflagValues(t *testing.T) {
	oldCommit := GitCommit
	defer func() { GitCommit = oldCommit }()

	GitCommit = "abc123"
	info := Get()
	if info.GitCommit != "abc123" {
		t.Errorf("GitCommit = %q, want %q", info.GitCommit, "abc123")
	}
}
