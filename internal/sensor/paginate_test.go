package sensor

import "testing"

func makeBuckets(n int) []Bucket {
	buckets := make([]Bucket, n)
	for i := range buckets {
		start := int64(n-i) * 60000
		buckets[i] = Bucket{Start: start, End: start + 59999}
	}
	return buckets
}

// TestPaginate verifies page slicing, clamping, and the empty case.
func TestPaginate(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		pageSize  int
		requested int
		wantPage  int
		wantTotal int
		wantLo    int
		wantRows  int
	}{
		{"first page", 25, 10, 1, 1, 3, 0, 10},
		{"middle page", 25, 10, 2, 2, 3, 10, 10},
		{"last partial page", 25, 10, 3, 3, 3, 20, 5},
		{"beyond last clamps", 25, 10, 99, 3, 3, 20, 5},
		{"zero clamps up", 25, 10, 0, 1, 3, 0, 10},
		{"negative clamps up", 25, 10, -4, 1, 3, 0, 10},
		{"exact multiple", 20, 10, 2, 2, 2, 10, 10},
		{"empty", 0, 10, 1, 1, 1, 0, 0},
		{"empty with large request", 0, 10, 7, 1, 1, 0, 0},
		{"non-positive page size", 3, 0, 2, 2, 3, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets := makeBuckets(tt.n)
			page := Paginate(buckets, tt.pageSize, tt.requested)

			if page.CurrentPage != tt.wantPage {
				t.Errorf("CurrentPage = %d, want %d", page.CurrentPage, tt.wantPage)
			}
			if page.TotalPages != tt.wantTotal {
				t.Errorf("TotalPages = %d, want %d", page.TotalPages, tt.wantTotal)
			}
			if page.TotalBuckets != tt.n {
				t.Errorf("TotalBuckets = %d, want %d", page.TotalBuckets, tt.n)
			}
			if len(page.Rows) != tt.wantRows {
				t.Fatalf("len(Rows) = %d, want %d", len(page.Rows), tt.wantRows)
			}
			if page.Rows == nil {
				t.Error("Rows is nil, want empty slice")
			}
			for i, r := range page.Rows {
				if r.Start != buckets[tt.wantLo+i].Start {
					t.Errorf("Rows[%d] = bucket %d, want bucket %d", i, r.Start, buckets[tt.wantLo+i].Start)
				}
			}
		})
	}
}

// TestPaginate_RowsDoNotAliasAppends verifies that appending to a page cannot overwrite the
// next page's buckets.
func TestPaginate_RowsDoNotAliasAppends(t *testing.T) {
	buckets := makeBuckets(25)
	next := buckets[10].Start
	page := Paginate(buckets, 10, 1)
	_ = append(page.Rows, Bucket{Start: -1})
	if buckets[10].Start != next {
		t.Error("append to page rows overwrote the following bucket")
	}
}

// TestTotalPages verifies the max(1, ceil(n/size)) rule.
func TestTotalPages(t *testing.T) {
	tests := []struct{ n, size, want int }{
		{0, 10, 1},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 10, 3},
		{5, 0, 5},
	}
	for _, tt := range tests {
		if got := TotalPages(tt.n, tt.size); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}
