package terrain

import "sort"

// coordQueue is a FIFO of unique chunk coordinates.
type coordQueue struct {
	items []ChunkCoord
	set   map[ChunkCoord]struct{}
}

func newCoordQueue() *coordQueue {
	return &coordQueue{set: make(map[ChunkCoord]struct{})}
}

func (q *coordQueue) Len() int { return len(q.items) }

func (q *coordQueue) Contains(c ChunkCoord) bool {
	_, ok := q.set[c]
	return ok
}

// Push appends c unless it is already queued.
func (q *coordQueue) Push(c ChunkCoord) {
	if q.Contains(c) {
		return
	}
	q.items = append(q.items, c)
	q.set[c] = struct{}{}
}

// Pop removes the head.
func (q *coordQueue) Pop() (ChunkCoord, bool) {
	if len(q.items) == 0 {
		return ChunkCoord{}, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	delete(q.set, c)
	return c, true
}

// Reset replaces the contents with items, keeping their order.
func (q *coordQueue) Reset(items []ChunkCoord) {
	q.items = q.items[:0:0]
	clear(q.set)
	for _, c := range items {
		q.Push(c)
	}
}

// Items returns a copy of the queue contents.
func (q *coordQueue) Items() []ChunkCoord {
	out := make([]ChunkCoord, len(q.items))
	copy(out, q.items)
	return out
}

// loadOrder returns every coordinate within Chebyshev radius of centre
// for which keep is true, closest first. Ties break on Z then X.
func loadOrder(centre ChunkCoord, radius int, keep func(ChunkCoord) bool) []ChunkCoord {
	var out []ChunkCoord
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			if c := centre.Add(dx, dz); keep(c) {
				out = append(out, c)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistSq(centre) < out[j].DistSq(centre)
	})
	return out
}

// unloadOrder returns the chunks of loaded farther than limit rings from
// centre, farthest first.
func unloadOrder(centre ChunkCoord, limit int, loaded []ChunkCoord) []ChunkCoord {
	var out []ChunkCoord
	for _, c := range loaded {
		if c.Chebyshev(centre) > limit {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistSq(centre) > out[j].DistSq(centre)
	})
	return out
}
