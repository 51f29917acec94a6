package msg

import (
	"fmt"
	"sort"
)

// SparseMatrix is a compressed sparse row matrix of uint32 values.
//
// Row traversal is O(row length). Column traversal walks every entry and
// is O(total entries); callers on the hot path should route forward and
// transpose once instead of walking columns.
type SparseMatrix struct {
	nrows, ncols int
	rowStart     []int // len nrows+1
	cols         []uint32
	vals         []uint32
}

// NewSparseMatrix creates an empty nrows x ncols matrix.
func NewSparseMatrix(nrows, ncols int) *SparseMatrix {
	m := &SparseMatrix{}
	m.SetSize(nrows, ncols)
	return m
}

// SetSize clears the matrix and sets its shape.
func (m *SparseMatrix) SetSize(nrows, ncols int) {
	m.nrows, m.ncols = nrows, ncols
	m.rowStart = make([]int, nrows+1)
	m.cols = m.cols[:0]
	m.vals = m.vals[:0]
}

// Clear removes every entry and keeps the shape.
func (m *SparseMatrix) Clear() { m.SetSize(m.nrows, m.ncols) }

func (m *SparseMatrix) NumRows() int { return m.nrows }
func (m *SparseMatrix) NumColumns() int { return m.ncols }
func (m *SparseMatrix) NumEntries() int { return len(m.vals) }

// AddRow replaces the contents of row with the given columns and values.
// cols must be strictly increasing.
func (m *SparseMatrix) AddRow(row int, cols, vals []uint32) error {
	if row < 0 || row >= m.nrows {
		return fmt.Errorf("row %d out of range [0, %d)", row, m.nrows)
	}
	if len(cols) != len(vals) {
		return fmt.Errorf("row %d: %d columns but %d values", row, len(cols), len(vals))
	}
	for i, c := range cols {
		if int(c) >= m.ncols {
			return fmt.Errorf("row %d: column %d out of range [0, %d)", row, c, m.ncols)
		}
		if i > 0 && cols[i-1] >= c {
			return fmt.Errorf("row %d: columns not strictly increasing", row)
		}
	}
	m.splice(row, cols, vals)
	return nil
}

func (m *SparseMatrix) splice(row int, cols, vals []uint32) {
	b, e := m.rowStart[row], m.rowStart[row+1]
	delta := len(cols) - (e - b)

	newCols := make([]uint32, 0, len(m.cols)+delta)
	newCols = append(append(append(newCols, m.cols[:b]...), cols...), m.cols[e:]...)
	newVals := make([]uint32, 0, len(m.vals)+delta)
	newVals = append(append(append(newVals, m.vals[:b]...), vals...), m.vals[e:]...)
	m.cols, m.vals = newCols, newVals

	for r := row + 1; r <= m.nrows; r++ {
		m.rowStart[r] += delta
	}
}

// Row returns the values and column indices of row. The slices alias the
// matrix and must not be modified.
func (m *SparseMatrix) Row(row int) (vals, cols []uint32) {
	if row < 0 || row >= m.nrows {
		return nil, nil
	}
	b, e := m.rowStart[row], m.rowStart[row+1]
	return m.vals[b:e], m.cols[b:e]
}

// RowLen is the number of entries in row.
func (m *SparseMatrix) RowLen(row int) int {
	if row < 0 || row >= m.nrows {
		return 0
	}
	return m.rowStart[row+1] - m.rowStart[row]
}

// Column returns the values and row indices of column col by walking every
// entry. O(total entries).
func (m *SparseMatrix) Column(col int) (vals, rows []uint32) {
	for r := 0; r < m.nrows; r++ {
		for k := m.rowStart[r]; k < m.rowStart[r+1]; k++ {
			if int(m.cols[k]) == col {
				vals = append(vals, m.vals[k])
				rows = append(rows, uint32(r))
			}
		}
	}
	return vals, rows
}

// Get returns the value at (row, col).
func (m *SparseMatrix) Get(row, col int) (uint32, bool) {
	if row < 0 || row >= m.nrows {
		return 0, false
	}
	b, e := m.rowStart[row], m.rowStart[row+1]
	k := b + sort.Search(e-b, func(i int) bool { return int(m.cols[b+i]) >= col })
	if k < e && int(m.cols[k]) == col {
		return m.vals[k], true
	}
	return 0, false
}

// Set stores v at (row, col), inserting the entry if needed.
func (m *SparseMatrix) Set(row, col int, v uint32) error {
	if row < 0 || row >= m.nrows || col < 0 || col >= m.ncols {
		return fmt.Errorf("(%d, %d) out of range %dx%d", row, col, m.nrows, m.ncols)
	}
	vals, cols := m.Row(row)
	k := sort.Search(len(cols), func(i int) bool { return int(cols[i]) >= col })
	if k < len(cols) && int(cols[k]) == col {
		m.vals[m.rowStart[row]+k] = v
		return nil
	}
	nc := make([]uint32, 0, len(cols)+1)
	nc = append(append(append(nc, cols[:k]...), uint32(col)), cols[k:]...)
	nv := make([]uint32, 0, len(vals)+1)
	nv = append(append(append(nv, vals[:k]...), v), vals[k:]...)
	m.splice(row, nc, nv)
	return nil
}

// Unset removes the entry at (row, col) if present.
func (m *SparseMatrix) Unset(row, col int) {
	vals, cols := m.Row(row)
	k := sort.Search(len(cols), func(i int) bool { return int(cols[i]) >= col })
	if k == len(cols) || int(cols[k]) != col {
		return
	}
	nc := append(append([]uint32(nil), cols[:k]...), cols[k+1:]...)
	nv := append(append([]uint32(nil), vals[:k]...), vals[k+1:]...)
	m.splice(row, nc, nv)
}

// Transpose swaps rows and columns in place. Entry count and values are
// preserved; within each new row entries are ordered by their old row.
func (m *SparseMatrix) Transpose() {
	counts := make([]int, m.ncols+1)
	for _, c := range m.cols {
		counts[c+1]++
	}
	for c := 0; c < m.ncols; c++ {
		counts[c+1] += counts[c]
	}

	next := append([]int(nil), counts[:m.ncols]...)
	cols := make([]uint32, len(m.cols))
	vals := make([]uint32, len(m.vals))
	for r := 0; r < m.nrows; r++ {
		for k := m.rowStart[r]; k < m.rowStart[r+1]; k++ {
			c := m.cols[k]
			dst := next[c]
			next[c]++
			cols[dst] = uint32(r)
			vals[dst] = m.vals[k]
		}
	}

	m.nrows, m.ncols = m.ncols, m.nrows
	m.rowStart, m.cols, m.vals = counts, cols, vals
}

// Clone returns a deep copy.
func (m *SparseMatrix) Clone() *SparseMatrix {
	return &SparseMatrix{
		nrows:    m.nrows,
		ncols:    m.ncols,
		rowStart: append([]int(nil), m.rowStart...),
		cols:     append([]uint32(nil), m.cols...),
		vals:     append([]uint32(nil), m.vals...),
	}
}
