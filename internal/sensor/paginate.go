package sensor

// DefaultPageSize is the number of history rows per page.
const DefaultPageSize = 10

// TotalPages returns max(1, ceil(n/pageSize)).
func TotalPages(n, pageSize int) int {
	if pageSize < 1 {
		pageSize = 1
	}
	total := (n + pageSize - 1) / pageSize
	if total < 1 {
		return 1
	}
	return total
}

// ClampPage pulls requested into [1, totalPages].
func ClampPage(requested, totalPages int) int {
	if requested > totalPages {
		requested = totalPages
	}
	if requested < 1 {
		return 1
	}
	return requested
}

// Paginate slices buckets into pages of pageSize. Out-of-range requests are clamped,
// never rejected. Rows share the backing array of buckets.
func Paginate(buckets []Bucket, pageSize, requested int) Page {
	if pageSize < 1 {
		pageSize = 1
	}
	total := TotalPages(len(buckets), pageSize)
	current := ClampPage(requested, total)

	lo := (current - 1) * pageSize
	hi := lo + pageSize
	if lo > len(buckets) {
		lo = len(buckets)
	}
	if hi > len(buckets) {
		hi = len(buckets)
	}
	rows := buckets[lo:hi:hi]
	if rows == nil {
		rows = []Bucket{}
	}
	return Page{
		Rows:         rows,
		CurrentPage:  current,
		TotalPages:   total,
		TotalBuckets: len(buckets),
	}
}
