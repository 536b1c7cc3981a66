/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package atlas

// Volume is a read-only labeled 3-D grid.
type Volume interface {
	Dims() (nx, ny, nz int)
	Label(x, y, z int) int
}

// Grid is a dense volume stored x-fastest, matching NIfTI voxel order.
type Grid struct {
	Nx, Ny, Nz int
	Data       []int32
}

func NewGrid(nx, ny, nz int) *Grid {
	return &Grid{
		Nx:   nx,
		Ny:   ny,
		Nz:   nz,
		Data: make([]int32, nx*ny*nz),
	}
}

func (g *Grid) Dims() (int, int, int) {
	return g.Nx, g.Ny, g.Nz
}

// Contains reports whether (x, y, z) lies inside the grid.
func (g *Grid) Contains(x, y, z int) bool {
	return x >= 0 && x < g.Nx && y >= 0 && y < g.Ny && z >= 0 && z < g.Nz
}

// Label returns the label at (x, y, z), or 0 outside the grid.
func (g *Grid) Label(x, y, z int) int {
	if !g.Contains(x, y, z) {
		return 0
	}

	return int(g.Data[x+y*g.Nx+z*g.Nx*g.Ny])
}

func (g *Grid) Set(x, y, z, label int) {
	g.Data[x+y*g.Nx+z*g.Nx*g.Ny] = int32(label)
}

// InBounds reports whether (x, y, z) is a voxel of v.
func InBounds(v Volume, x, y, z int) bool {
	nx, ny, nz := v.Dims()

	return x >= 0 && x < nx && y >= 0 && y < ny && z >= 0 && z < nz
}
