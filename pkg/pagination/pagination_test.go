package pagination

import "testing"

func TestDefault(t *testing.T) {
	s := Default()
	if s.Page() != 0 || s.PageSize() != 20 {
		t.Fatalf("expected page 0 size 20, got page %d size %d", s.Page(), s.PageSize())
	}
}

func TestHandlePageSizeChangeResetsPage(t *testing.T) {
	for _, page := range []int{0, 1, 7, 250} {
		s := New(page, 10)
		s.HandlePageSizeChange(50)
		if s.Page() != 0 {
			t.Fatalf("from page %d: expected page 0, got %d", page, s.Page())
		}
		if s.PageSize() != 50 {
			t.Fatalf("expected page size 50, got %d", s.PageSize())
		}
	}
}

func TestHandlePageChangeHasNoBounds(t *testing.T) {
	s := New(0, 10)
	s.HandlePageChange(999)
	if s.Page() != 999 {
		t.Fatalf("expected page 999, got %d", s.Page())
	}
	if s.Offset() != 9990 {
		t.Fatalf("expected offset 9990, got %d", s.Offset())
	}

	s.ResetPagination()
	if s.Page() != 0 || s.PageSize() != 10 {
		t.Fatalf("reset should only touch page, got page %d size %d", s.Page(), s.PageSize())
	}
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		name     string
		pageSize int
		total    int
		want     int
	}{
		{"empty", 20, 0, 0},
		{"exact", 20, 40, 2},
		{"remainder", 20, 41, 3},
		{"zero page size", 0, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(0, tt.pageSize).TotalPages(tt.total); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
