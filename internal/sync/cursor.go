package sync

import (
	"hash/fnv"
)

// Palette is the fixed set of highlight colors for remote participants.
// Color assignment hashes the user id into this palette, so a given user
// keeps the same color across sessions and independent of join order.
// Order and values are part of the visual contract; changing either
// reshuffles everyone's colors.
var Palette = [8]string{
	"#f44336", // red
	"#e91e63", // pink
	"#9c27b0", // purple
	"#3f51b5", // indigo
	"#2196f3", // blue
	"#009688", // teal
	"#ff9800", // orange
	"#795548", // brown
}

// ColorFor deterministically maps a user id to a palette color using FNV-1a.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// DecorationKind distinguishes the two highlight shapes a remote selection
// produces.
type DecorationKind string

const (
	// DecorationLine is a full-line highlight at the selection's start line.
	DecorationLine DecorationKind = "line"
	// DecorationRange is a column-exact highlight over the selected range.
	DecorationRange DecorationKind = "range"
)

// Decoration is one paint instruction for the editing surface. Coordinates
// are 1-based editor coordinates; line decorations carry only StartLine.
type Decoration struct {
	UserID    string         `json:"user_id"`
	Color     string         `json:"color"`
	Kind      DecorationKind `json:"kind"`
	StartLine int            `json:"start_line"`
	StartCol  int            `json:"start_col,omitempty"`
	EndLine   int            `json:"end_line,omitempty"`
	EndCol    int            `json:"end_col,omitempty"`
}

// BuildDecorations renders every remote participant's last known selection
// as paint instructions: a full-line highlight at the start line, plus a
// range highlight when the selection spans more than a single point. The
// local user and participants without a selection are skipped.
//
// The result is a complete replacement set (the editing surface only
// supports replace-all decoration semantics) and is deterministic for a
// given roster (which Roster already sorts), so repeated renders of the same
// state are byte-identical.
func BuildDecorations(roster []RosterEntry, selfID string) []Decoration {
	out := make([]Decoration, 0, len(roster)*2)
	for _, e := range roster {
		if e.UserID == selfID || e.Selection.IsZero() {
			continue
		}
		color := ColorFor(e.UserID)
		out = append(out, Decoration{
			UserID:    e.UserID,
			Color:     color,
			Kind:      DecorationLine,
			StartLine: e.Selection.StartLine,
		})
		if !e.Selection.IsPoint() {
			out = append(out, Decoration{
				UserID:    e.UserID,
				Color:     color,
				Kind:      DecorationRange,
				StartLine: e.Selection.StartLine,
				StartCol:  e.Selection.StartCol,
				EndLine:   e.Selection.EndLine,
				EndCol:    e.Selection.EndCol,
			})
		}
	}
	return out
}

// SameDecorations reports whether two replacement sets are identical, so
// unchanged selections do not trigger a redundant repaint.
func SameDecorations(a, b []Decoration) bool {
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
