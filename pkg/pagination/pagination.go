// Package pagination holds the page cursor of a paginated view.
package pagination

const (
	DefaultPage     = 0
	DefaultPageSize = 20
)

// State is a zero-based page cursor. It does not know the total number of
// rows; callers clamp page numbers themselves. Not safe for concurrent use.
type State struct {
	page     int
	pageSize int
}

func New(initialPage, initialPageSize int) *State {
	return &State{page: initialPage, pageSize: initialPageSize}
}

// Default returns a cursor on page 0 with 20 rows per page.
func Default() *State {
	return New(DefaultPage, DefaultPageSize)
}

func (s *State) Page() int     { return s.page }
func (s *State) PageSize() int { return s.pageSize }

func (s *State) HandlePageChange(page int) {
	s.page = page
}

// HandlePageSizeChange changes the page size and always goes back to the first
// page, since the old page number points at different rows.
func (s *State) HandlePageSizeChange(size int) {
	s.pageSize = size
	s.page = 0
}

func (s *State) ResetPagination() {
	s.page = 0
}

// Offset is the index of the first row on the current page.
func (s *State) Offset() int {
	return s.page * s.pageSize
}

// TotalPages returns the number of pages needed for total rows.
func (s *State) TotalPages(total int) int {
	if s.pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + s.pageSize - 1) / s.pageSize
}
