package patchtool

import (
	"fmt"
	"strings"
)

// DiffTracker accumulates the unified diff across every apply_patch call
// in a turn, so the Turn Loop can emit a single TurnDiff event after each
// successful patch end (spec.md §4.5/§4.6: "after a successful patch end:
// TurnDiff{unified_diff} if a diff exists").
type DiffTracker struct {
	perFile map[string]string
	order   []string
}

// NewDiffTracker returns an empty tracker, one per turn.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{perFile: map[string]string{}}
}

// Record folds one applied Change's before/after content into the
// tracker, replacing (not appending to) any earlier diff for the same
// path: a file's section is the diff of its most recent change alone,
// measured against that file's content just before that change; earlier
// edits to the same file in the turn are not shown.
func (t *DiffTracker) Record(res FileResult) {
	if _, seen := t.perFile[res.Path]; !seen {
		t.order = append(t.order, res.Path)
	}
	t.perFile[res.Path] = unifiedDiff(res)
}

// Empty reports whether any non-empty diff has been recorded.
func (t *DiffTracker) Empty() bool {
	for _, path := range t.order {
		if t.perFile[path] != "" {
			return false
		}
	}
	return true
}

// UnifiedDiff renders the cumulative diff across every tracked file, in
// the order files were first touched.
func (t *DiffTracker) UnifiedDiff() string {
	var b strings.Builder
	for _, path := range t.order {
		b.WriteString(t.perFile[path])
	}
	return b.String()
}

// unifiedDiff renders one FileResult as a minimal unified diff section.
// It is intentionally whole-file (no hunk minimization): the turn diff is
// a human-review artifact, not an input to further patching.
func unifiedDiff(res FileResult) string {
	var b strings.Builder
	switch res.Kind {
	case ChangeAdd:
		fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\n", res.Path)
		writeHunk(&b, "", res.NewContent)
	case ChangeDelete:
		fmt.Fprintf(&b, "--- a/%s\n+++ /dev/null\n", res.Path)
		writeHunk(&b, res.OldContent, "")
	case ChangeUpdate:
		fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", res.Path, res.Path)
		writeHunk(&b, res.OldContent, res.NewContent)
	}
	return b.String()
}

func writeHunk(b *strings.Builder, old, new string) {
	oldLines := splitLines(old)
	newLines := splitLines(new)
	fmt.Fprintf(b, "@@ -1,%d +1,%d @@\n", len(oldLines), len(newLines))
	for _, l := range oldLines {
		fmt.Fprintf(b, "-%s\n", l)
	}
	for _, l := range newLines {
		fmt.Fprintf(b, "+%s\n", l)
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
