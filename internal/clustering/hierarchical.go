package clustering

import (
	"container/heap"
	"math"
)

type treeNode struct {
	left, right int
	parent      int
	level       int
	items       []int
	metric      float64
}

// HierarchicalTree links items bottom-up by average geographic distance into
// a binary merge tree, then cuts it: every leaf climbs to its highest ancestor
// whose metric stays within total/n, and the leaves below that ancestor form
// one cluster. Surplus clusters are merged into their nearest neighbour.
func HierarchicalTree(items []Item, n int, metric string) [][]int {
	if n <= 0 {
		return nil
	}
	if len(items) == 0 {
		return make([][]int, n)
	}

	nodes := buildTree(items, metric)
	limit := totalMetric(items, metric) / float64(n)

	covered := make([]bool, len(items))
	var clusters [][]int
	for leaf := range items {
		if covered[leaf] {
			continue
		}
		node := leaf
		for p := nodes[node].parent; p != -1 && nodes[p].metric <= limit; p = nodes[node].parent {
			node = p
		}
		members := nodes[node].items
		for _, i := range members {
			covered[i] = true
		}
		clusters = append(clusters, members)
	}

	for len(clusters) > n {
		clusters = mergeSmallest(items, clusters, metric)
	}
	for len(clusters) < n {
		clusters = append(clusters, nil)
	}
	return clusters
}

// linkage is a candidate merge of two tree nodes at average distance d.
type linkage struct {
	d    float64
	a, b int
}

// linkageHeap is a min-heap of candidate merges. Entries naming an already
// merged node are stale and skipped when popped.
type linkageHeap []linkage

func (h linkageHeap) Len() int { return len(h) }
func (h linkageHeap) Less(i, j int) bool {
	if h[i].d != h[j].d {
		return h[i].d < h[j].d
	}
	if h[i].a != h[j].a {
		return h[i].a < h[j].a
	}
	return h[i].b < h[j].b
}
func (h linkageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *linkageHeap) Push(x any)   { *h = append(*h, x.(linkage)) }
func (h *linkageHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// buildTree returns leaves first (index i is item i), then internal nodes in
// merge order. The root is the last node. Each step merges the closest pair
// of active nodes under average linkage.
func buildTree(items []Item, metric string) []treeNode {
	nodes := make([]treeNode, len(items), 2*len(items))
	for i, it := range items {
		nodes[i] = treeNode{left: -1, right: -1, parent: -1, items: []int{i}, metric: it.Metric(metric)}
	}

	active := map[int]bool{}
	for i := range items {
		active[i] = true
	}
	// dist holds the average linkage between active nodes, keyed low id first.
	dist := map[[2]int]float64{}
	key := func(a, b int) [2]int {
		if a > b {
			a, b = b, a
		}
		return [2]int{a, b}
	}
	h := make(linkageHeap, 0, len(items)*(len(items)-1)/2)
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			d := haversine(items[i].Coordinates, items[j].Coordinates)
			dist[key(i, j)] = d
			h = append(h, linkage{d: d, a: i, b: j})
		}
	}
	heap.Init(&h)

	for len(active) > 1 && h.Len() > 0 {
		top := heap.Pop(&h).(linkage)
		if !active[top.a] || !active[top.b] {
			continue
		}
		a, b := top.a, top.b
		id := len(nodes)
		merged := treeNode{
			left:   a,
			right:  b,
			parent: -1,
			level:  max(nodes[a].level, nodes[b].level) + 1,
			items:  append(append([]int{}, nodes[a].items...), nodes[b].items...),
			metric: nodes[a].metric + nodes[b].metric,
		}
		nodes = append(nodes, merged)
		nodes[a].parent = id
		nodes[b].parent = id
		delete(active, a)
		delete(active, b)

		sa, sb := float64(len(nodes[a].items)), float64(len(nodes[b].items))
		for c := range active {
			d := (sa*dist[key(a, c)] + sb*dist[key(b, c)]) / (sa + sb)
			dist[key(id, c)] = d
			delete(dist, key(a, c))
			delete(dist, key(b, c))
			heap.Push(&h, linkage{d: d, a: c, b: id})
		}
		active[id] = true
	}
	return nodes
}

func mergeSmallest(items []Item, clusters [][]int, metric string) [][]int {
	smallest := 0
	for c := range clusters {
		if clusterMetric(items, clusters[c], metric) < clusterMetric(items, clusters[smallest], metric) {
			smallest = c
		}
	}

	from := centroid(items, clusters[smallest])
	target := -1
	bestDist := math.Inf(1)
	for c := range clusters {
		if c == smallest {
			continue
		}
		if d := haversine(from, centroid(items, clusters[c])); d < bestDist {
			target, bestDist = c, d
		}
	}

	clusters[target] = append(clusters[target], clusters[smallest]...)
	return append(clusters[:smallest], clusters[smallest+1:]...)
}

func clusterMetric(items []Item, members []int, metric string) float64 {
	var total float64
	for _, i := range members {
		total += items[i].Metric(metric)
	}
	return total
}
