package urls_test

import (
	"testing"

	"vodkeep/pkg/urls"
)

func TestIsURLValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want bool
	}{
		{"https://vod.example.com/a/index.m3u8", true},
		{"http://127.0.0.1:8080/x", true},
		{"ftp://example.com/x", false},
		{"00001.ts", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := urls.IsURLValid(tt.raw); got != tt.want {
			t.Errorf("IsURLValid(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw, want string
	}{
		{"https://host/a/b/index-dvr.m3u8", "https://host/a/b/"},
		{"https://host/", "https://host/"},
		{"index.m3u8", ""},
	}

	for _, tt := range tests {
		if got := urls.Prefix(tt.raw); got != tt.want {
			t.Errorf("Prefix(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, prefix, ref, want string
	}{
		{"relative", "https://host/vod/chunked/", "12.ts", "https://host/vod/chunked/12.ts"},
		{"relative with query", "https://host/vod/chunked/", "12.ts?start=0", "https://host/vod/chunked/12.ts?start=0"},
		{"absolute kept", "https://host/vod/chunked/", "https://cdn/x/12.ts", "https://cdn/x/12.ts"},
		{"parent dir", "https://host/vod/chunked/", "../audio/1.ts", "https://host/vod/audio/1.ts"},
		{"muted segment", "https://host/vod/chunked/", "13-muted.ts", "https://host/vod/chunked/13-muted.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := urls.Resolve(tt.prefix, tt.ref); got != tt.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tt.prefix, tt.ref, got, tt.want)
			}
		})
	}
}
