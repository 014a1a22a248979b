package version

import (
	"strings"
	"testing"
)

func TestShortCommit(t *testing.T) {
	t.Parallel()
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("short commit %q", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("short commit %q", got)
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	t.Parallel()
	info := Resolve()
	if info.Version == "" {
		t.Fatal("empty version")
	}
	if s := String(); !strings.HasPrefix(s, info.Version) {
		t.Fatalf("string %q does not start with %q", s, info.Version)
	}
}

func TestReport(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		info Info
		want string
	}{
		{"version only", Info{Version: "v1.2.0"}, "version:    v1.2.0\n"},
		{"full", Info{Version: "v1.2.0", Commit: "abc", BuildTime: "2026-01-02", GoVersion: "go1.25"},
			"version:    v1.2.0\ncommit:     abc\nbuild time: 2026-01-02\ngo:         go1.25\n"},
		{"no build time", Info{Version: "dev", GoVersion: "go1.25"}, "version:    dev\ngo:         go1.25\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.info.Report(); got != tc.want {
				t.Fatalf("report %q, want %q", got, tc.want)
			}
		})
	}
}
