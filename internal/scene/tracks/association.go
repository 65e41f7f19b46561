package tracks

import (
	"fmt"
	"math"
	"sort"
)

// Assigner pairs detections (rows) with tracks (columns) given a cost matrix.
// A pair is only admissible when its cost is strictly below maxCost.
// Assign returns assignment[i] = column matched to row i, or -1.
type Assigner interface {
	Assign(cost [][]float64, maxCost float64) []int
}

// AssignerByName returns the assigner registered under name.
func AssignerByName(name string) (Assigner, error) {
	switch name {
	case "", "greedy":
		return GreedyAssigner{}, nil
	case "hungarian":
		return HungarianAssigner{}, nil
	}
	return nil, fmt.Errorf("unknown assigner %q (want greedy or hungarian)", name)
}

func unassigned(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = -1
	}
	return out
}

// GreedyAssigner accepts pairs in ascending cost order over the whole
// matrix. It is O(n·m·log(n·m)) and deterministic: equal costs keep their
// enumeration order (row-major), so on ties the lower detection index wins,
// then the lower track index. Unlike an optimal solver it can leave a close
// pair unmatched when a competing pair with equal or lower cost claims one
// side first.
type GreedyAssigner struct{}

type costEntry struct {
	cost float64
	row  int
	col  int
}

// Assign implements Assigner.
func (GreedyAssigner) Assign(cost [][]float64, maxCost float64) []int {
	result := unassigned(len(cost))
	if len(cost) == 0 {
		return result
	}

	entries := make([]costEntry, 0, len(cost)*len(cost[0]))
	for i, row := range cost {
		for j, c := range row {
			entries = append(entries, costEntry{cost: c, row: i, col: j})
		}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].cost < entries[b].cost
	})

	usedCols := make(map[int]bool)
	for _, e := range entries {
		if result[e.row] >= 0 || usedCols[e.col] {
			continue
		}
		if e.cost < maxCost {
			result[e.row] = e.col
			usedCols[e.col] = true
		}
	}
	return result
}

// hungarianInf stands in for a forbidden pairing.
const hungarianInf = 1e18

// HungarianAssigner solves the rectangular assignment problem optimally
// (Kuhn–Munkres with potentials, O(n³)). It minimises total cost over
// admissible pairs and can be swapped in for GreedyAssigner without changing
// anything else in the registry.
type HungarianAssigner struct{}

// Assign implements Assigner.
func (HungarianAssigner) Assign(cost [][]float64, maxCost float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	if m == 0 {
		return unassigned(n)
	}

	// Make the matrix square by padding with forbidden entries.
	dim := n
	if m > dim {
		dim = m
	}
	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m && cost[i][j] < maxCost {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = hungarianInf
			}
		}
	}

	// 1-indexed arrays keep the potential bookkeeping readable.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)   // p[j] = row assigned to column j
	way := make([]int, dim+1) // way[j] = previous column in augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	result := unassigned(n)
	for j := 1; j <= dim; j++ {
		row := p[j] - 1
		col := j - 1
		if row < 0 || row >= n || col >= m {
			continue
		}
		if c[row][col] >= hungarianInf {
			continue
		}
		result[row] = col
	}
	return result
}
