package migrate

import (
	"fmt"
	"regexp"
	"strings"
)

// workItemAPIPattern matches the internal work-item API URL form, e.g.
// https://dev.azure.com/org/project/_apis/wit/workItems/123.
var workItemAPIPattern = regexp.MustCompile(`(?i)^(https?://[^\s]+)/_apis/wit/workitems/(\d+)$`)

// vstfsPrefix marks Azure DevOps artifact cross-reference pseudo-URLs.
const vstfsPrefix = "vstfs:///Git/"

// LinkResolver rewrites cross-platform reference URLs into canonical public
// URLs. It consults the checkpoint for already-migrated targets and the
// config's repository table for vstfs artifact links.
type LinkResolver struct {
	Config *Config
	State  *State
	Owner  string // destination repository owner

	// OnWarning receives one message per unresolvable reference (optional).
	OnWarning func(msg string)
}

// Resolve maps a reference to a public URL.
//
// Priority order: a known destination mapping (when preferMapped is set),
// the internal API → web URL rewrite, pass-through for plain URLs, and
// finally vstfs artifact synthesis. Unresolvable references degrade to ""
// rather than erroring; the caller decides whether to omit them.
func (r *LinkResolver) Resolve(ref string, preferMapped bool) string {
	if ref == "" {
		return ""
	}

	if preferMapped && r.State != nil {
		if dest, ok := r.State.Lookup(ref); ok {
			return dest
		}
	}

	if m := workItemAPIPattern.FindStringSubmatch(ref); m != nil {
		return m[1] + "/_workitems/edit/" + m[2]
	}

	if !strings.HasPrefix(ref, vstfsPrefix) {
		return ref
	}

	kind, repoID, target, ok := parseArtifactRef(ref)
	if !ok {
		r.warn("malformed artifact reference %q", ref)
		return ""
	}

	repoName, ok := r.Config.Repos[repoID]
	if !ok {
		r.warn("no repository mapping for %s (reference %s)", repoID, ref)
		return ""
	}

	base := fmt.Sprintf("https://github.com/%s/%s", r.Owner, repoName)
	switch kind {
	case "Commit":
		return base + "/commit/" + target
	case "PullRequestId":
		return base + "/pull/" + target
	default:
		return base + "/issues/" + target
	}
}

// parseArtifactRef splits a vstfs pseudo-URL into its link kind, internal
// repository id, and target id. Segments may be joined by %2F or plain
// slashes; the repository id is the second-to-last segment and the target
// the last, which skips the leading project GUID when one is present.
func parseArtifactRef(ref string) (kind, repoID, target string, ok bool) {
	rest := strings.TrimPrefix(ref, vstfsPrefix)
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "", "", "", false
	}
	kind = rest[:slash]
	rest = strings.ReplaceAll(rest[slash+1:], "%2F", "/")
	rest = strings.ReplaceAll(rest, "%2f", "/")

	segments := strings.Split(rest, "/")
	if len(segments) < 2 {
		return "", "", "", false
	}
	repoID = segments[len(segments)-2]
	target = segments[len(segments)-1]
	if repoID == "" || target == "" {
		return "", "", "", false
	}
	return kind, repoID, target, true
}

func (r *LinkResolver) warn(format string, args ...interface{}) {
	if r.OnWarning != nil {
		r.OnWarning(fmt.Sprintf(format, args...))
	}
}
