// Package worldview keeps the bot's picture of its surroundings from OBS
// messages and answers the session's environment queries.
package worldview

import (
	"fmt"

	"queuequiz.ai/internal/protocol"
	"queuequiz.ai/internal/session"
)

// maxRadius bounds the voxel cube we are willing to allocate.
const maxRadius = 32

// View is not safe for concurrent use; the bot drives it from the read loop.
type View struct {
	palette []string

	self    session.Coord
	hasSelf bool

	center [3]int
	radius int
	cube   []uint16
}

func New() *View { return &View{} }

// Reset forgets everything learned on the previous connection.
func (v *View) Reset() {
	*v = View{}
}

// ApplyCatalog records the block palette; other catalogs are ignored.
func (v *View) ApplyCatalog(c protocol.CatalogMsg) error {
	if c.Name != protocol.CatalogBlockPalette {
		return nil
	}
	pal, err := c.BlockPalette()
	if err != nil {
		return err
	}
	v.palette = pal
	return nil
}

// Observe updates the avatar position and the voxel cube. The position is
// kept even when the voxels cannot be decoded.
func (v *View) Observe(obs *protocol.ObsMsg) error {
	v.self = session.Coord(obs.Self.Pos)
	v.hasSelf = true
	return v.applyVoxels(obs.Voxels)
}

func (v *View) applyVoxels(vox protocol.VoxelsObs) error {
	r := vox.Radius
	if r < 0 || r > maxRadius {
		v.cube = nil
		return fmt.Errorf("voxel radius %d out of range", r)
	}
	dim := 2*r + 1
	total := dim * dim * dim

	switch vox.Encoding {
	case protocol.EncodingRLE:
		ids, err := decodeRLE(vox.Data, total)
		if err != nil {
			v.cube = nil
			return fmt.Errorf("voxels: %w", err)
		}
		v.cube = ids
	case protocol.EncodingDelta:
		// Delta ops are relative to the previous cube in the same scan order.
		if v.cube == nil || v.radius != r {
			v.cube = nil
			return fmt.Errorf("voxels: delta without base cube")
		}
		// Check every op first so a bad frame leaves the cube untouched.
		idx := make([]int, len(vox.Ops))
		for k, op := range vox.Ops {
			i, ok := index(op.D, r)
			if !ok {
				return fmt.Errorf("voxels: delta op %v outside radius %d", op.D, r)
			}
			idx[k] = i
		}
		for k, op := range vox.Ops {
			v.cube[idx[k]] = op.B
		}
	default:
		return fmt.Errorf("voxels: unknown encoding %q", vox.Encoding)
	}
	v.center = vox.Center
	v.radius = r
	return nil
}

// index maps a delta from the cube center to the dy/dz/dx scan order.
func index(d [3]int, r int) (int, bool) {
	dx, dy, dz := d[0], d[1], d[2]
	if dx < -r || dx > r || dy < -r || dy > r || dz < -r || dz > r {
		return 0, false
	}
	dim := 2*r + 1
	return (dy+r)*dim*dim + (dz+r)*dim + (dx + r), true
}

// BlockAt returns the palette id at an absolute position inside the cube.
func (v *View) BlockAt(c session.Coord) (uint16, bool) {
	if v.cube == nil {
		return 0, false
	}
	i, ok := index([3]int{c[0] - v.center[0], c[1] - v.center[1], c[2] - v.center[2]}, v.radius)
	if !ok {
		return 0, false
	}
	return v.cube[i], true
}

// Material names the block at c; ok is false when the cube does not cover c
// or the palette has no name for its id.
func (v *View) Material(c session.Coord) (string, bool) {
	id, ok := v.BlockAt(c)
	if !ok || int(id) >= len(v.palette) {
		return "", false
	}
	return v.palette[id], true
}

// Location implements session.Env.
func (v *View) Location() (session.Coord, bool) { return v.self, v.hasSelf }

// MaterialBelow implements session.Env.
func (v *View) MaterialBelow(c session.Coord) (string, bool) { return v.Material(c.Below()) }
