package floorplan

import (
	"fmt"
	"strings"
)

const (
	Size     = 16
	HalfBits = Size * Size / 2
)

// Grid is the hospital floor as 16x16 cells; true marks an occupied cell.
type Grid [Size][Size]bool

// Decode builds a grid from the two stored halves. Each half is read row-major,
// padded with '0' or truncated to HalfBits characters. Any character other
// than '1' is an empty cell.
func Decode(upper, lower string) Grid {
	var g Grid
	fill(&g, 0, normalise(upper))
	fill(&g, Size/2, normalise(lower))
	return g
}

func normalise(half string) string {
	if len(half) >= HalfBits {
		return half[:HalfBits]
	}
	return half + strings.Repeat("0", HalfBits-len(half))
}

func fill(g *Grid, firstRow int, bits string) {
	for i := 0; i < HalfBits; i++ {
		g[firstRow+i/Size][i%Size] = bits[i] == '1'
	}
}

// Encode returns the upper (rows 0-7) and lower (rows 8-15) halves.
func (g Grid) Encode() (upper, lower string) {
	return g.half(0), g.half(Size / 2)
}

func (g Grid) half(firstRow int) string {
	var b strings.Builder
	b.Grow(HalfBits)
	for r := firstRow; r < firstRow+Size/2; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	return b.String()
}

func (g Grid) Occupied() int {
	n := 0
	for r := range g {
		for c := range g[r] {
			if g[r][c] {
				n++
			}
		}
	}
	return n
}

// Rows returns the grid as nested slices for JSON.
func (g Grid) Rows() [][]bool {
	rows := make([][]bool, Size)
	for r := range g {
		rows[r] = append([]bool(nil), g[r][:]...)
	}
	return rows
}

// FromRows accepts exactly Size rows of Size cells.
func FromRows(rows [][]bool) (Grid, error) {
	var g Grid
	if len(rows) != Size {
		return g, fmt.Errorf("grid must have %d rows, got %d", Size, len(rows))
	}
	for r, row := range rows {
		if len(row) != Size {
			return g, fmt.Errorf("grid row %d must have %d cells, got %d", r, Size, len(row))
		}
		copy(g[r][:], row)
	}
	return g, nil
}
