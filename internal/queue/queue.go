// Package queue ranks scored records.
package queue

// Item is a scored record reference.
type Item struct {
	Ref   uint64
	Score float32
}

// better orders by descending score, then ascending ref, so a ranking does
// not depend on the order items were offered in.
func better(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Ref < b.Ref
}

// TopK keeps the k best items offered to it. The backing heap has the worst
// retained item at its root.
type TopK struct {
	k     int
	items []Item
}

// NewTopK returns a TopK bounded to k items. Negative k keeps nothing.
func NewTopK(k int) *TopK {
	k = max(k, 0)
	return &TopK{k: k, items: make([]Item, 0, k)}
}

// Offer considers item and reports whether it was kept.
func (t *TopK) Offer(item Item) bool {
	switch {
	case t.k == 0:
		return false
	case len(t.items) < t.k:
		t.items = append(t.items, item)
		t.up(len(t.items) - 1)
		return true
	case !better(item, t.items[0]):
		return false
	default:
		t.items[0] = item
		t.down(0)
		return true
	}
}

// Len is the number of retained items.
func (t *TopK) Len() int { return len(t.items) }

// Drain returns the retained items best first and empties t.
func (t *TopK) Drain() []Item {
	out := make([]Item, len(t.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = t.pop()
	}
	return out
}

func (t *TopK) pop() Item {
	n := len(t.items) - 1
	root := t.items[0]
	t.items[0] = t.items[n]
	t.items = t.items[:n]
	if n > 0 {
		t.down(0)
	}
	return root
}

// worse is the heap order: the worst item rises to the root.
func (t *TopK) worse(i, j int) bool { return better(t.items[j], t.items[i]) }

func (t *TopK) up(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !t.worse(i, p) {
			return
		}
		t.items[i], t.items[p] = t.items[p], t.items[i]
		i = p
	}
}

func (t *TopK) down(i int) {
	n := len(t.items)
	for {
		c := 2*i + 1
		if c >= n {
			return
		}
		if r := c + 1; r < n && t.worse(r, c) {
			c = r
		}
		if !t.worse(c, i) {
			return
		}
		t.items[i], t.items[c] = t.items[c], t.items[i]
		i = c
	}
}
