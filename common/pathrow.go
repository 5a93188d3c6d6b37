package common

import (
	"fmt"
	"sort"
)

// WRS2 grid bounds
const (
	MinPath = 1
	MaxPath = 233
	MinRow  = 1
	MaxRow  = 248
)

// PathRow identifies a cell of the Worldwide Reference System-2
type PathRow struct {
	Path int `json:"path"`
	Row  int `json:"row"`
}

// Valid returns true if the path and row are in the WRS2 bounds
func (pr PathRow) Valid() bool {
	return pr.Path >= MinPath && pr.Path <= MaxPath && pr.Row >= MinRow && pr.Row <= MaxRow
}

// String returns the usual PPPRRR representation
func (pr PathRow) String() string {
	return fmt.Sprintf("%03d%03d", pr.Path, pr.Row)
}

// PathRows is a set of PathRow (all elements are unique)
type PathRows map[PathRow]struct{}

// NewPathRows creates a set with the given elements
func NewPathRows(prs ...PathRow) PathRows {
	s := make(PathRows, len(prs))
	for _, pr := range prs {
		s.Push(pr)
	}
	return s
}

// Push adds the PathRow to the set if not already exists
func (s PathRows) Push(pr PathRow) {
	s[pr] = struct{}{}
}

// Exists returns true if the PathRow already exists in the set
func (s PathRows) Exists(pr PathRow) bool {
	_, ok := s[pr]
	return ok
}

// Slice returns the elements of the set sorted by path then row
func (s PathRows) Slice() []PathRow {
	sl := make([]PathRow, 0, len(s))
	for pr := range s {
		sl = append(sl, pr)
	}
	sort.Slice(sl, func(i, j int) bool {
		if sl[i].Path != sl[j].Path {
			return sl[i].Path < sl[j].Path
		}
		return sl[i].Row < sl[j].Row
	})
	return sl
}
