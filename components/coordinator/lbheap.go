package coordinator

import (
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/proto"
)

type lbheapentry struct {
	proxy   *ShardProxy
	load    proto.ShardLoadInfo
	heapidx int // index of this entry in the heap
}

// lbheap keeps the idle shards of one map, least loaded first
type lbheap []*lbheapentry

func (h lbheap) Len() int {
	return len(h)
}

func (h lbheap) Less(i, j int) bool {
	if h[i].load.CPUPercent != h[j].load.CPUPercent {
		return h[i].load.CPUPercent < h[j].load.CPUPercent
	}
	return h[i].load.Sessions < h[j].load.Sessions
}

func (h lbheap) Swap(i, j int) {
	// need to swap heapidx
	h[i].heapidx, h[j].heapidx = h[j].heapidx, h[i].heapidx
	h[i], h[j] = h[j], h[i]
}

func (h *lbheap) Push(x interface{}) {
	entry := x.(*lbheapentry)
	entry.heapidx = len(*h)
	*h = append(*h, entry)
}

func (h *lbheap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.heapidx = -1
	*h = old[0 : n-1]
	return x
}

func (h lbheap) validateHeapIndexes() {
	for i := 0; i < len(h); i++ {
		if h[i].heapidx != i {
			gwlog.Fatalf("lbheap elem at index %d but has heapidx=%d", i, h[i].heapidx)
		}
	}
}
