package hnsw

// ScoredItem pairs an item with a float32 score for use in a
// container/heap priority queue.
type ScoredItem[T any] struct {
	Score float32
	Item  T
}

// maxHeap orders ScoredItem by descending score, so the highest score
// is always at the root. Used to drive beam-search exploration order.
type maxHeap[T any] []ScoredItem[T]

func (h maxHeap[T]) Len() int            { return len(h) }
func (h maxHeap[T]) Less(i, j int) bool  { return h[i].Score > h[j].Score }
func (h maxHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap[T]) Push(x interface{}) { *h = append(*h, x.(ScoredItem[T])) }
func (h *maxHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minHeap orders ScoredItem by ascending score, so the lowest score is
// always at the root. Used to track a bounded top-ef result set: the
// worst member is evicted first when the set overflows.
type minHeap[T any] []ScoredItem[T]

func (h minHeap[T]) Len() int            { return len(h) }
func (h minHeap[T]) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h minHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap[T]) Push(x interface{}) { *h = append(*h, x.(ScoredItem[T])) }
func (h *minHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
