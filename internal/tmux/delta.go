package tmux

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// NewContent returns the lines of cur that were not on screen in prev.
//
// The common case is scrolling: a suffix of prev reappears as a prefix of
// cur, and everything after that overlap is new. The overlap must contain a
// non-blank line, otherwise runs of empty lines would match anywhere. When
// no overlap exists (clear screen, in-place redraw) the two screens are
// aligned line by line and the inserted lines are returned.
//
// This can lose lines evicted between two captures and can repeat lines
// when the alignment misfires.
func NewContent(prev, cur string) string {
	if prev == cur {
		return ""
	}
	if prev == "" {
		return cur
	}

	prevLines := strings.Split(prev, "\n")
	curLines := strings.Split(cur, "\n")

	for k := min(len(prevLines), len(curLines)); k > 0; k-- {
		if !hasNonBlank(curLines[:k]) {
			break
		}
		if equalLines(prevLines[len(prevLines)-k:], curLines[:k]) {
			return strings.Join(curLines[k:], "\n")
		}
	}

	return insertedLines(prev, cur)
}

func insertedLines(prev, cur string) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(prev+"\n", cur+"\n")
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var out strings.Builder
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffInsert {
			out.WriteString(d.Text)
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasNonBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}
