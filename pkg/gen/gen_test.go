package gen_test

import (
	"testing"

	"github.com/google/uuid"

	"vodkeep/pkg/gen"
)

func TestJobID(t *testing.T) {
	a, b := gen.JobID(), gen.JobID()
	if a == b {
		t.Fatalf("JobID() returned duplicate %q", a)
	}

	id, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("JobID() = %q is not a uuid: %v", a, err)
	}

	if id.Version() != 7 {
		t.Fatalf("JobID() version = %d, want 7", id.Version())
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{name: "id and quality", parts: []string{"123456789", "720p60"}, want: "123456789-720p60"},
		{name: "spaces and case", parts: []string{"My Stream", "Source"}, want: "my-stream-source"},
		{name: "symbols only", parts: []string{"!!!"}, want: "video"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gen.FileName(tt.parts...); got != tt.want {
				t.Fatalf("FileName(%q) = %q, want %q", tt.parts, got, tt.want)
			}
		})
	}
}

func TestTempDirName(t *testing.T) {
	if got := gen.TempDirName("VK_", "abc"); got != "VK_abc" {
		t.Fatalf("TempDirName() = %q, want VK_abc", got)
	}
}
