// Package patchtool implements the Patch Applier (spec.md §4.6): parsing
// an apply_patch envelope into file-level changes, applying them to the
// workspace, and tracking the cumulative per-turn diff.
package patchtool

import (
	"fmt"
	"strings"
)

// ParseOutcome discriminates the four results of parsing a candidate
// apply_patch invocation (spec.md §4.6).
type ParseOutcome string

const (
	// OutcomeBody: a well-formed patch envelope, ready to apply.
	OutcomeBody ParseOutcome = "body"
	// OutcomeCorrectnessError: recognizably an apply_patch call with a
	// structural error; the message is returned to the model as the tool
	// output rather than applied.
	OutcomeCorrectnessError ParseOutcome = "correctness_error"
	// OutcomeShellParseError: the shell invocation looked like it might be
	// an apply_patch call but didn't parse as one; the caller should treat
	// it as a regular exec command instead.
	OutcomeShellParseError ParseOutcome = "shell_parse_error"
	// OutcomeNotApplyPatch: the input is not an apply_patch invocation at
	// all.
	OutcomeNotApplyPatch ParseOutcome = "not_apply_patch"
)

// ChangeKind discriminates one file's change within a patch body.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Hunk is one `@@` context-anchored edit within an Update change.
type Hunk struct {
	// Lines carries the hunk body verbatim: " " (context), "-" (remove),
	// "+" (add) prefixed lines, matching the envelope's own line prefixes.
	Lines []string
}

// Change is one file's entry in a parsed patch Body.
type Change struct {
	Kind ChangeKind
	Path string
	// MovePath is set for an Update change that also renames the file
	// ("*** Move to: <path>").
	MovePath string
	// AddContent holds the full new file body for a ChangeAdd.
	AddContent string
	// Hunks holds the context-anchored edits for a ChangeUpdate.
	Hunks []Hunk
}

// ParseResult is the outcome of Parse.
type ParseResult struct {
	Outcome ParseOutcome
	Changes []Change
	// Message explains a CorrectnessError or ShellParseError outcome.
	Message string
}

const (
	beginMarker = "*** Begin Patch"
	endMarker   = "*** End Patch"
	addPrefix   = "*** Add File: "
	updPrefix   = "*** Update File: "
	delPrefix   = "*** Delete File: "
	movePrefix  = "*** Move to: "
)

// ParseShellInvocation recognizes `apply_patch <<'EOF' ... EOF` and bare
// `apply_patch <<patch text>>` shell forms, extracting the envelope body
// before delegating to Parse. argv is the parsed shell command; the
// result's Outcome is OutcomeNotApplyPatch if argv does not look like an
// apply_patch invocation at all.
func ParseShellInvocation(argv []string, stdinBody string) ParseResult {
	if len(argv) == 0 || !strings.HasSuffix(argv[0], "apply_patch") {
		return ParseResult{Outcome: OutcomeNotApplyPatch}
	}
	body := stdinBody
	if body == "" && len(argv) > 1 {
		body = strings.Join(argv[1:], " ")
	}
	if !strings.Contains(body, beginMarker) {
		return ParseResult{
			Outcome: OutcomeShellParseError,
			Message: "apply_patch invocation did not contain a recognizable patch envelope",
		}
	}
	return Parse(body)
}

// Parse parses a patch envelope (spec.md §4.6's Body/CorrectnessError
// outcomes). The input must already be known to be an apply_patch body;
// use ParseShellInvocation to classify a raw shell command first.
func Parse(body string) ParseResult {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	start, end := -1, -1
	for i, l := range lines {
		if strings.TrimSpace(l) == beginMarker {
			start = i
		}
		if strings.TrimSpace(l) == endMarker {
			end = i
		}
	}
	if start == -1 || end == -1 || end <= start {
		return ParseResult{
			Outcome: OutcomeCorrectnessError,
			Message: "patch must be wrapped in *** Begin Patch / *** End Patch markers",
		}
	}

	var changes []Change
	var current *Change
	for _, raw := range lines[start+1 : end] {
		switch {
		case strings.HasPrefix(raw, addPrefix):
			changes = append(changes, Change{Kind: ChangeAdd, Path: strings.TrimPrefix(raw, addPrefix)})
			current = &changes[len(changes)-1]
		case strings.HasPrefix(raw, updPrefix):
			changes = append(changes, Change{Kind: ChangeUpdate, Path: strings.TrimPrefix(raw, updPrefix)})
			current = &changes[len(changes)-1]
		case strings.HasPrefix(raw, delPrefix):
			changes = append(changes, Change{Kind: ChangeDelete, Path: strings.TrimPrefix(raw, delPrefix)})
			current = nil
		case strings.HasPrefix(raw, movePrefix):
			if current == nil || current.Kind != ChangeUpdate {
				return ParseResult{Outcome: OutcomeCorrectnessError, Message: "Move to: must follow an Update File entry"}
			}
			current.MovePath = strings.TrimPrefix(raw, movePrefix)
		case strings.HasPrefix(raw, "@@"):
			if current == nil || current.Kind != ChangeUpdate {
				return ParseResult{Outcome: OutcomeCorrectnessError, Message: "hunk header outside of an Update File entry"}
			}
			current.Hunks = append(current.Hunks, Hunk{})
		case current != nil && current.Kind == ChangeAdd:
			current.AddContent += strings.TrimPrefix(raw, "+") + "\n"
		case current != nil && current.Kind == ChangeUpdate && len(current.Hunks) > 0:
			h := &current.Hunks[len(current.Hunks)-1]
			if raw == "" {
				continue
			}
			prefix := raw[:1]
			if prefix != " " && prefix != "+" && prefix != "-" {
				return ParseResult{Outcome: OutcomeCorrectnessError, Message: fmt.Sprintf("invalid hunk line: %q", raw)}
			}
			h.Lines = append(h.Lines, raw)
		case strings.TrimSpace(raw) == "":
			continue
		default:
			return ParseResult{Outcome: OutcomeCorrectnessError, Message: fmt.Sprintf("unexpected line outside any file entry: %q", raw)}
		}
	}

	if len(changes) == 0 {
		return ParseResult{Outcome: OutcomeCorrectnessError, Message: "patch contains no file entries"}
	}
	return ParseResult{Outcome: OutcomeBody, Changes: changes}
}
