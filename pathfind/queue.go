package pathfind

// openItem is a frontier entry. seq records discovery order and breaks ties
// between equal total estimates.
type openItem struct {
	node  Node
	seq   int
	index int
}

// openQueue is a min-heap on (F, seq) for container/heap
type openQueue []*openItem

func (q openQueue) Len() int { return len(q) }

func (q openQueue) Less(i, j int) bool {
	if q[i].node.F != q[j].node.F {
		return q[i].node.F < q[j].node.F
	}
	return q[i].seq < q[j].seq
}

func (q openQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *openQueue) Push(x any) {
	item := x.(*openItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *openQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}
