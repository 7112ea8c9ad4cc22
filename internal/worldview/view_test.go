package worldview

import (
	"encoding/json"
	"testing"

	"queuequiz.ai/internal/protocol"
	"queuequiz.ai/internal/session"
)

var testPalette = []string{"AIR", "BARRIER", "GRASS", "STONE"}

func paletteMsg(t *testing.T) protocol.CatalogMsg {
	t.Helper()
	data, _ := json.Marshal(testPalette)
	return protocol.CatalogMsg{Type: protocol.TypeCatalog, Name: protocol.CatalogBlockPalette, Data: data}
}

// cubeWith builds a radius-r cube of AIR with the given block below center.
func cubeWith(r int, below uint16) []uint16 {
	dim := 2*r + 1
	ids := make([]uint16, dim*dim*dim)
	i, _ := index([3]int{0, -1, 0}, r)
	ids[i] = below
	return ids
}

func obsAt(pos [3]int, vox protocol.VoxelsObs) *protocol.ObsMsg {
	return &protocol.ObsMsg{Type: protocol.TypeObs, Self: protocol.SelfObs{Pos: pos}, Voxels: vox}
}

func TestRLE_RoundTrip(t *testing.T) {
	in := []uint16{1, 1, 1, 2, 2, 3}
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 10)

	out, err := decodeRLE(encodeRLE(in), len(in))
	if err != nil {
		t.Fatalf("decodeRLE: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
	if _, err := decodeRLE(encodeRLE(in), len(in)-1); err == nil {
		t.Fatalf("expected overflow error")
	}
	if _, err := decodeRLE(encodeRLE(in), len(in)+1); err == nil {
		t.Fatalf("expected short error")
	}
	if _, err := decodeRLE("!!", 1); err == nil {
		t.Fatalf("expected base64 error")
	}
}

func TestView_MaterialBelowFromRLE(t *testing.T) {
	v := New()
	if err := v.ApplyCatalog(paletteMsg(t)); err != nil {
		t.Fatal(err)
	}
	pos := [3]int{8, 5, 8}
	err := v.Observe(obsAt(pos, protocol.VoxelsObs{
		Center: pos, Radius: 2, Encoding: protocol.EncodingRLE, Data: encodeRLE(cubeWith(2, 1)),
	}))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	loc, ok := v.Location()
	if !ok || loc != (session.Coord{8, 5, 8}) {
		t.Fatalf("loc=%v ok=%v", loc, ok)
	}
	if got, ok := v.MaterialBelow(loc); !ok || got != "BARRIER" {
		t.Fatalf("below=%q ok=%v", got, ok)
	}
	if got, ok := v.Material(loc); !ok || got != "AIR" {
		t.Fatalf("at=%q ok=%v", got, ok)
	}
	if got, ok := v.Material(session.Coord{100, 5, 8}); ok || got != "" {
		t.Fatalf("outside cube=%q ok=%v", got, ok)
	}
}

func TestView_DeltaUpdatesCube(t *testing.T) {
	v := New()
	_ = v.ApplyCatalog(paletteMsg(t))
	pos := [3]int{8, 5, 8}
	if err := v.Observe(obsAt(pos, protocol.VoxelsObs{Center: pos, Radius: 1, Encoding: protocol.EncodingRLE, Data: encodeRLE(cubeWith(1, 1))})); err != nil {
		t.Fatal(err)
	}
	err := v.Observe(obsAt(pos, protocol.VoxelsObs{
		Center: pos, Radius: 1, Encoding: protocol.EncodingDelta,
		Ops: []protocol.VoxelDeltaOp{{D: [3]int{0, -1, 0}, B: 3}},
	}))
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if got, _ := v.MaterialBelow(session.Coord(pos)); got != "STONE" {
		t.Fatalf("below=%q", got)
	}

	err = v.Observe(obsAt(pos, protocol.VoxelsObs{Center: pos, Radius: 1, Encoding: protocol.EncodingDelta, Ops: []protocol.VoxelDeltaOp{{D: [3]int{0, -2, 0}, B: 3}}}))
	if err == nil {
		t.Fatalf("expected out-of-radius error")
	}
}

func TestView_BadDeltaLeavesCubeUntouched(t *testing.T) {
	v := New()
	_ = v.ApplyCatalog(paletteMsg(t))
	pos := [3]int{8, 5, 8}
	if err := v.Observe(obsAt(pos, protocol.VoxelsObs{Center: pos, Radius: 1, Encoding: protocol.EncodingRLE, Data: encodeRLE(cubeWith(1, 1))})); err != nil {
		t.Fatal(err)
	}
	err := v.Observe(obsAt(pos, protocol.VoxelsObs{
		Center: pos, Radius: 1, Encoding: protocol.EncodingDelta,
		Ops: []protocol.VoxelDeltaOp{
			{D: [3]int{0, -1, 0}, B: 3},
			{D: [3]int{5, 0, 0}, B: 3},
		},
	}))
	if err == nil {
		t.Fatalf("expected out-of-radius error")
	}
	if got, ok := v.MaterialBelow(session.Coord(pos)); !ok || got != "BARRIER" {
		t.Fatalf("below=%q ok=%v, want untouched BARRIER", got, ok)
	}
}

func TestView_DeltaWithoutBase(t *testing.T) {
	v := New()
	_ = v.ApplyCatalog(paletteMsg(t))
	pos := [3]int{8, 5, 8}
	err := v.Observe(obsAt(pos, protocol.VoxelsObs{Center: pos, Radius: 1, Encoding: protocol.EncodingDelta}))
	if err == nil {
		t.Fatalf("expected error")
	}
	// Position is still known; material is not.
	if _, ok := v.Location(); !ok {
		t.Fatalf("location lost")
	}
	if got, ok := v.MaterialBelow(session.Coord(pos)); ok {
		t.Fatalf("below=%q", got)
	}
}

func TestView_UnknownPaletteIDAndReset(t *testing.T) {
	v := New()
	pos := [3]int{0, 1, 0}
	_ = v.Observe(obsAt(pos, protocol.VoxelsObs{Center: pos, Radius: 1, Encoding: protocol.EncodingRLE, Data: encodeRLE(cubeWith(1, 1))}))
	if got, ok := v.MaterialBelow(session.Coord(pos)); ok {
		t.Fatalf("no palette yet, below=%q", got)
	}
	v.Reset()
	if _, ok := v.Location(); ok {
		t.Fatalf("location survived reset")
	}
}
