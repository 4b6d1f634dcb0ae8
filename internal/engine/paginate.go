package engine

// Page is one slice of a ranking together with where it sits in the whole.
type Page[T any] struct {
	Entries    []T
	Index      int
	TotalPages int
	// Offset is the position of Entries[0] in the full ranking, so the rank
	// of Entries[i] is Offset+i+1.
	Offset int
	Total  int
}

// TotalPages is max(1, ceil(n/size)). A non-positive size counts as 1.
func TotalPages(n, size int) int {
	if size <= 0 {
		size = 1
	}
	if n <= 0 {
		return 1
	}
	return (n + size - 1) / size
}

// ClampPage pulls index into [0, pages-1].
func ClampPage(index, pages int) int {
	if pages < 1 {
		pages = 1
	}
	if index < 0 {
		return 0
	}
	if index > pages-1 {
		return pages - 1
	}
	return index
}

// Paginate slices entries into the page at index, clamping index first so a
// page number remembered from a larger ranking still yields a valid page.
// The returned entries alias the input.
func Paginate[T any](entries []T, size, index int) Page[T] {
	if size <= 0 {
		size = 1
	}
	total := TotalPages(len(entries), size)
	index = ClampPage(index, total)

	start := index * size
	end := min(start+size, len(entries))
	if start > end {
		start = end
	}
	return Page[T]{
		Entries:    entries[start:end:end],
		Index:      index,
		TotalPages: total,
		Offset:     start,
		Total:      len(entries),
	}
}
