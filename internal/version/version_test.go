package version

import (
	"strings"
	"testing"
)

func TestFullIncludesVersionAndCommit(t *testing.T) {
	full := Full()
	if !strings.Contains(full, Version) || !strings.Contains(full, Commit) {
		t.Fatalf("unexpected version string: %s", full)
	}
	if !strings.HasPrefix(full, "offline-proxy ") {
		t.Fatalf("version string should start with binary name: %s", full)
	}
}
