package services

// DisjointSet is a union-find over dense integer elements with path
// compression. Union always keeps the target's root, so a set's root is its
// first element when sets only absorb newcomers.
type DisjointSet struct {
	parent []int
	size   []int
}

// NewDisjointSet creates an empty set with room for n elements.
func NewDisjointSet(n int) *DisjointSet {
	return &DisjointSet{parent: make([]int, 0, n), size: make([]int, 0, n)}
}

// Add creates a singleton set and returns its element.
func (d *DisjointSet) Add() int {
	e := len(d.parent)
	d.parent = append(d.parent, e)
	d.size = append(d.size, 1)
	return e
}

// Len is the number of elements.
func (d *DisjointSet) Len() int { return len(d.parent) }

// Find returns the root of x's set.
func (d *DisjointSet) Find(x int) int {
	root := x
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for d.parent[x] != root {
		next := d.parent[x]
		d.parent[x] = root
		x = next
	}
	return root
}

// Union merges x's set into target's set and returns the surviving root,
// which is target's root.
func (d *DisjointSet) Union(x, target int) int {
	rx, rt := d.Find(x), d.Find(target)
	if rx == rt {
		return rt
	}
	d.parent[rx] = rt
	d.size[rt] += d.size[rx]
	return rt
}

// Size is the number of elements in x's set.
func (d *DisjointSet) Size(x int) int { return d.size[d.Find(x)] }

// Sets groups all elements by root. Roots and members are in element order.
func (d *DisjointSet) Sets() (roots []int, members map[int][]int) {
	members = make(map[int][]int)
	for e := range d.parent {
		r := d.Find(e)
		if _, ok := members[r]; !ok {
			roots = append(roots, r)
		}
		members[r] = append(members[r], e)
	}
	return roots, members
}
