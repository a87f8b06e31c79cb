package compare

import "math"

// hungarianInf marks a forbidden pairing in the cost matrix. Implicit
// padding used to square up a rectangular matrix reads as the same value,
// so surplus reference units simply stay unassigned.
const hungarianInf = 1e18

// hungarianAssign solves the minimum-cost 1:1 assignment over a reference
// by test unit cost matrix exactly, via shortest augmenting paths with dual
// potentials (Jonker-Volgenant). O(dim³) for dim = max(#ref, #test), which
// stays small here: rows and columns are units, not events.
//
// Returns one test column per reference row, -1 where the row ends up
// unassigned or only forbidden pairings remain.
func hungarianAssign(cost [][]float64) []int {
	nRef := len(cost)
	if nRef == 0 {
		return nil
	}
	nTest := len(cost[0])

	out := make([]int, nRef)
	for i := range out {
		out[i] = -1
	}
	if nTest == 0 {
		return out
	}

	dim := max(nRef, nTest)

	// Rectangular matrices are padded implicitly: cells outside the real
	// matrix read as forbidden rather than being materialised.
	at := func(i, j int) float64 {
		if i < nRef && j < nTest {
			return cost[i][j]
		}
		return hungarianInf
	}

	const unbounded = math.MaxFloat64 / 2

	// 1-indexed internally; column 0 is the virtual start of each path.
	refPotential := make([]float64, dim+1)
	testPotential := make([]float64, dim+1)
	rowOf := make([]int, dim+1)   // rowOf[j] = row currently holding column j
	prevCol := make([]int, dim+1) // prevCol[j] = previous column on the augmenting path
	slack := make([]float64, dim+1)
	visited := make([]bool, dim+1)

	for row := 1; row <= dim; row++ {
		rowOf[0] = row
		col := 0
		for j := 1; j <= dim; j++ {
			slack[j] = unbounded
			visited[j] = false
		}

		for {
			visited[col] = true
			cur := rowOf[col]
			delta := unbounded
			next := -1

			for j := 1; j <= dim; j++ {
				if visited[j] {
					continue
				}
				reduced := at(cur-1, j-1) - refPotential[cur] - testPotential[j]
				if reduced < slack[j] {
					slack[j] = reduced
					prevCol[j] = col
				}
				if slack[j] < delta {
					delta = slack[j]
					next = j
				}
			}
			if next < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if visited[j] {
					refPotential[rowOf[j]] += delta
					testPotential[j] -= delta
				} else {
					slack[j] -= delta
				}
			}

			col = next
			if rowOf[col] == 0 {
				break
			}
		}

		// Flip the assignment along the augmenting path.
		for col != 0 {
			rowOf[col] = rowOf[prevCol[col]]
			col = prevCol[col]
		}
	}

	for j := 1; j <= dim; j++ {
		row := rowOf[j] - 1
		if row < 0 || row >= nRef || j-1 >= nTest {
			continue
		}
		if cost[row][j-1] < hungarianInf {
			out[row] = j - 1
		}
	}
	return out
}
