package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info{CommitHash: "0123456789abcdef", BuildTime: "2026-01-02", Version: "v1.2.0", Platform: "linux/amd64"}

	if got := info.Short(); got != "0123456" {
		t.Errorf("Short() = %q", got)
	}
	if got := info.String(); got != "etl v1.2.0 (commit 0123456, built 2026-01-02)" {
		t.Errorf("String() = %q", got)
	}
	if got := info.UserAgent(); got != "etl/v1.2.0 (linux/amd64)" {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("unexpected Go version %q", info.GoVersion)
	}
	if info.Short() != "dev" {
		t.Errorf("expected dev build, got %q", info.Short())
	}
}
