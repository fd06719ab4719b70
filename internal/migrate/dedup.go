package migrate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/codemill/ado2gh/internal/ado"
	"github.com/codemill/ado2gh/internal/github"
)

// TieBreak selects which destination issue wins when several share a title.
type TieBreak string

const (
	// TieBreakFirst keeps the issue with the lowest number.
	TieBreakFirst TieBreak = "first"
	// TieBreakLast keeps the issue with the highest number.
	TieBreakLast TieBreak = "last"
)

// issueNumberPattern extracts the trailing issue number of a web URL.
var issueNumberPattern = regexp.MustCompile(`(\d+)$`)

// Reconcile matches a batch of source items against existing destination
// issues by title and returns sourceURL → destinationURL for every hit.
//
// Title matching is a best-effort heuristic: unrelated items sharing a
// title produce false merges. Callers merge the result into the checkpoint
// with first-writer-wins so an explicit entry always takes precedence.
func Reconcile(batch []*ado.WorkItem, existing map[string]*github.Issue, tieBreak TieBreak, sourceURL func(id int) string, warn func(string)) map[string]string {
	titleIndex := buildTitleIndex(existing, tieBreak, warn)

	resolved := make(map[string]string)
	for _, item := range batch {
		if dest, ok := titleIndex[item.Fields.Title]; ok {
			resolved[sourceURL(item.ID)] = dest
		}
	}
	return resolved
}

// buildTitleIndex reduces existing issues to a title → URL index, resolving
// duplicate titles per the tie-break policy with one warning per group.
func buildTitleIndex(existing map[string]*github.Issue, tieBreak TieBreak, warn func(string)) map[string]string {
	byTitle := make(map[string][]string)
	for url, issue := range existing {
		byTitle[issue.Title] = append(byTitle[issue.Title], url)
	}

	index := make(map[string]string, len(byTitle))
	for title, urls := range byTitle {
		if len(urls) == 1 {
			index[title] = urls[0]
			continue
		}

		sort.Slice(urls, func(i, j int) bool {
			return urlNumber(urls[i]) < urlNumber(urls[j])
		})
		selected := urls[0]
		if tieBreak == TieBreakLast {
			selected = urls[len(urls)-1]
		}
		index[title] = selected

		if warn != nil {
			warn(fmt.Sprintf("duplicate title %q on %s; keeping %s (%s)",
				title, strings.Join(urls, ", "), selected, tieBreak))
		}
	}
	return index
}

// urlNumber returns the numeric suffix of an issue URL, or 0 when absent.
func urlNumber(url string) int {
	m := issueNumberPattern.FindStringSubmatch(url)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
