package git

import "testing"

func TestExtractOwnerRepo(t *testing.T) {
	tests := []struct {
		url       string
		owner     string
		repo      string
		expectErr bool
	}{
		{"git@github.com:mfinley/stepflow.git", "mfinley", "stepflow", false},
		{"https://github.com/mfinley/stepflow.git", "mfinley", "stepflow", false},
		{"https://github.com/mfinley/stepflow", "mfinley", "stepflow", false},
		{"http://github.com/a/b", "a", "b", false},
		{"not-a-url", "", "", true},
		{"git@github.com", "", "", true},
	}

	for _, tt := range tests {
		owner, repo, err := ExtractOwnerRepo(tt.url)
		if tt.expectErr {
			if err == nil {
				t.Errorf("ExtractOwnerRepo(%q): expected error", tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("ExtractOwnerRepo(%q): %v", tt.url, err)
			continue
		}
		if owner != tt.owner || repo != tt.repo {
			t.Errorf("ExtractOwnerRepo(%q) = %s/%s, want %s/%s", tt.url, owner, repo, tt.owner, tt.repo)
		}
	}
}
