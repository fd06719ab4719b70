package migrate

import (
	"strings"
	"testing"
)

func testResolver(warnings *[]string) *LinkResolver {
	cfg := NewConfig()
	cfg.Repos["R1"] = "svc"
	cfg.Repos["7f8a"] = "billing"

	return &LinkResolver{
		Config: cfg,
		State:  NewState(),
		Owner:  "contoso",
		OnWarning: func(msg string) {
			if warnings != nil {
				*warnings = append(*warnings, msg)
			}
		},
	}
}

func TestResolveIssueArtifact(t *testing.T) {
	r := testResolver(nil)

	got := r.Resolve("vstfs:///Git/Issue/R1%2F42", false)
	if !strings.HasSuffix(got, "/svc/issues/42") {
		t.Errorf("Resolve = %q, want suffix /svc/issues/42", got)
	}
}

func TestResolveUnmappedRepoWarns(t *testing.T) {
	var warnings []string
	r := testResolver(&warnings)

	got := r.Resolve("vstfs:///Git/Issue/unknown%2F42", false)
	if got != "" {
		t.Errorf("Resolve = %q, want empty for unmapped repository", got)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warnings))
	}
	if !strings.Contains(warnings[0], "unknown") {
		t.Errorf("warning %q does not name the repository id", warnings[0])
	}
}

func TestResolveArtifactKinds(t *testing.T) {
	r := testResolver(nil)

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{
			name: "commit with project guid",
			ref:  "vstfs:///Git/Commit/proj%2F7f8a%2Fdeadbeefcafe",
			want: "https://github.com/contoso/billing/commit/deadbeefcafe",
		},
		{
			name: "pull request",
			ref:  "vstfs:///Git/PullRequestId/proj%2F7f8a%2F17",
			want: "https://github.com/contoso/billing/pull/17",
		},
		{
			name: "plain slashes",
			ref:  "vstfs:///Git/Issue/R1/9",
			want: "https://github.com/contoso/svc/issues/9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.ref, false); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolveAPIURLRewrite(t *testing.T) {
	r := testResolver(nil)

	got := r.Resolve("https://dev.azure.com/org/proj/_apis/wit/workItems/123", false)
	want := "https://dev.azure.com/org/proj/_workitems/edit/123"
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolvePlainURLPassThrough(t *testing.T) {
	r := testResolver(nil)

	ref := "https://example.com/docs/page"
	if got := r.Resolve(ref, false); got != ref {
		t.Errorf("Resolve = %q, want unchanged %q", got, ref)
	}
}

func TestResolvePreferMapped(t *testing.T) {
	r := testResolver(nil)
	r.State.Insert("https://dev.azure.com/org/proj/_workitems/edit/5", "https://github.com/contoso/svc/issues/99")

	got := r.Resolve("https://dev.azure.com/org/proj/_workitems/edit/5", true)
	if got != "https://github.com/contoso/svc/issues/99" {
		t.Errorf("Resolve = %q, want mapped destination", got)
	}

	// Without preferMapped the reference passes through unchanged.
	got = r.Resolve("https://dev.azure.com/org/proj/_workitems/edit/5", false)
	if got != "https://dev.azure.com/org/proj/_workitems/edit/5" {
		t.Errorf("Resolve = %q, want pass-through", got)
	}
}

func TestResolveNeverErrors(t *testing.T) {
	r := testResolver(nil)

	for _, ref := range []string{"", "vstfs:///Git/Commit", "vstfs:///Git/Issue/"} {
		got := r.Resolve(ref, false)
		if got != "" && got != ref {
			t.Errorf("Resolve(%q) = %q, want degraded result", ref, got)
		}
	}
}
