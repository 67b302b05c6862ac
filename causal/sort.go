// Package causal orders a thread so that every message follows the
// messages it references.
package causal

import (
	"container/heap"

	"github.com/ssbc/ssb-viewer/ssb"
)

// Sort returns msgs in causal order: a message appears after every root or
// branch it names, when those are part of msgs. Independent messages are
// ordered by claimed timestamp, then key, so the result depends only on the
// set and not on the input order. Reference cycles are broken by emitting
// the earliest remaining message.
func Sort(msgs []ssb.Message) []ssb.Message {
	n := len(msgs)
	if n < 2 {
		return msgs
	}

	index := make(map[string]int, n)
	for i, m := range msgs {
		index[m.Key] = i
	}

	// waiting[i] counts unresolved parents of i; children[j] lists the
	// messages referencing j.
	waiting := make([]int, n)
	children := make([][]int, n)
	for i, m := range msgs {
		seen := make(map[int]bool)
		for _, ref := range ssb.CausalLinks(m.Value.RawContent) {
			j, ok := index[ref]
			if !ok || j == i || seen[j] {
				continue
			}
			seen[j] = true
			waiting[i]++
			children[j] = append(children[j], i)
		}
	}

	ready := &queue{msgs: msgs}
	for i := range msgs {
		if waiting[i] == 0 {
			ready.idx = append(ready.idx, i)
		}
	}
	heap.Init(ready)

	done := make([]bool, n)
	out := make([]ssb.Message, 0, n)
	for len(out) < n {
		if ready.Len() == 0 {
			heap.Push(ready, earliest(msgs, done))
		}
		i := heap.Pop(ready).(int)
		if done[i] {
			continue
		}
		done[i] = true
		out = append(out, msgs[i])
		for _, c := range children[i] {
			waiting[c]--
			if waiting[c] == 0 && !done[c] {
				heap.Push(ready, c)
			}
		}
	}
	return out
}

func earliest(msgs []ssb.Message, done []bool) int {
	best := -1
	for i := range msgs {
		if done[i] {
			continue
		}
		if best < 0 || less(msgs[i], msgs[best]) {
			best = i
		}
	}
	return best
}

func less(a, b ssb.Message) bool {
	if a.Value.Timestamp != b.Value.Timestamp {
		return a.Value.Timestamp < b.Value.Timestamp
	}
	return a.Key < b.Key
}

// queue is a min-heap of indexes into msgs.
type queue struct {
	msgs []ssb.Message
	idx  []int
}

func (q *queue) Len() int           { return len(q.idx) }
func (q *queue) Less(i, j int) bool { return less(q.msgs[q.idx[i]], q.msgs[q.idx[j]]) }
func (q *queue) Swap(i, j int)      { q.idx[i], q.idx[j] = q.idx[j], q.idx[i] }
func (q *queue) Push(x any)         { q.idx = append(q.idx, x.(int)) }

func (q *queue) Pop() any {
	last := q.idx[len(q.idx)-1]
	q.idx = q.idx[:len(q.idx)-1]
	return last
}
