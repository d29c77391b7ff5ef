// Package chunk splits slices into backend-sized batches.
package chunk

// Split divides items into consecutive chunks of at most size elements.
// The chunks share the backing array of items. size < 1 is treated as 1.
// An empty input yields no chunks.
func Split[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
