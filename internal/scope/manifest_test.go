package scope

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		allow   []string
		deny    []string
		logOnly []string
		path    string
		want    Classification
	}{
		{
			name: "empty allow list permits everything outside deny",
			path: "anything/goes.txt",
			want: Allow,
		},
		{
			name:  "deny wins over an overlapping allow",
			allow: []string{"projects/foo/**"},
			deny:  []string{"projects/foo/secrets/**"},
			path:  "projects/foo/secrets/key.pem",
			want:  Deny,
		},
		{
			name:  "path outside a nonempty allow list is denied",
			allow: []string{"projects/foo/**"},
			path:  "projects/bar/index.md",
			want:  Deny,
		},
		{
			name:  "path inside the allow list is allowed",
			allow: []string{"projects/foo/**"},
			path:  "projects/foo/README.md",
			want:  Allow,
		},
		{
			name:    "log_only is reported when not denied or excluded from allow",
			allow:   []string{"**"},
			logOnly: []string{"*.generated.go"},
			path:    "models.generated.go",
			want:    LogOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManifest("test", tt.allow, tt.deny, tt.logOnly)
			if got := m.Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

func TestFallbackManifestAllowsEverythingInRoot(t *testing.T) {
	m := FallbackManifest()
	if got := m.Classify("any/nested/path.go"); got != Allow {
		t.Errorf("FallbackManifest().Classify() = %s, want Allow", got)
	}
}
