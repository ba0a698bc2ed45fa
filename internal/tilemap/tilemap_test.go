package tilemap

import (
	"image"
	"testing"
)

type fakeFilter struct{ local bool }

func (f fakeFilter) IsSpatiallyLocal() bool { return f.local }

func TestNewComputesGrid(t *testing.T) {
	tm := New(image.Point{X: 100, Y: 50}, image.Point{X: 32, Y: 32})
	if tm.Cols != 4 || tm.Rows != 2 {
		t.Fatalf("Cols/Rows = %d/%d, want 4/2", tm.Cols, tm.Rows)
	}
}

func TestDerive_SpatiallyLocalKeepsMapKey(t *testing.T) {
	prev := New(image.Point{X: 64, Y: 64}, image.Point{X: 16, Y: 16})
	next := Derive(prev, fakeFilter{local: true}, image.Point{X: 64, Y: 64})

	if next.MapKey != prev.MapKey {
		t.Errorf("MapKey changed across a spatially-local derive: %d -> %d", prev.MapKey, next.MapKey)
	}
	if !next.Local {
		t.Errorf("Local = false, want true")
	}
	if next.Generation == prev.Generation {
		t.Errorf("Generation must always advance, even when the grid key is stable")
	}
}

func TestDerive_NonLocalMintsNewMapKey(t *testing.T) {
	prev := New(image.Point{X: 64, Y: 64}, image.Point{X: 16, Y: 16})
	next := Derive(prev, fakeFilter{local: false}, image.Point{X: 64, Y: 64})

	if next.MapKey == prev.MapKey {
		t.Errorf("MapKey carried over across a non-local derive")
	}
	if next.Local {
		t.Errorf("Local = true, want false")
	}
}

func TestDerive_SizeChangeMintsNewMapKeyEvenIfLocal(t *testing.T) {
	prev := New(image.Point{X: 64, Y: 64}, image.Point{X: 16, Y: 16})
	next := Derive(prev, fakeFilter{local: true}, image.Point{X: 32, Y: 32})

	if next.MapKey == prev.MapKey {
		t.Errorf("MapKey carried over despite a full-size change")
	}
}

func TestTileRectClipsToFullSize(t *testing.T) {
	tm := New(image.Point{X: 50, Y: 50}, image.Point{X: 32, Y: 32})
	rect := tm.TileRect(1, 1)
	want := image.Rect(32, 32, 50, 50)
	if rect != want {
		t.Errorf("TileRect(1,1) = %v, want %v", rect, want)
	}
}

func TestTileIDStableAcrossGridRebuild(t *testing.T) {
	tm := New(image.Point{X: 64, Y: 64}, image.Point{X: 16, Y: 16})
	id1 := tm.TileID(2, 1)

	tm2 := &TileMap{FullSize: tm.FullSize, TileSize: tm.TileSize, MapKey: tm.MapKey}
	tm2.computeGrid()
	id2 := tm2.TileID(2, 1)

	if id1 != id2 {
		t.Errorf("TileID not stable for the same MapKey/cell: %d != %d", id1, id2)
	}
}

func TestCellsCoversWholeGrid(t *testing.T) {
	tm := New(image.Point{X: 48, Y: 32}, image.Point{X: 16, Y: 16})
	cells := tm.Cells()
	if len(cells) != tm.Cols*tm.Rows {
		t.Fatalf("got %d cells, want %d", len(cells), tm.Cols*tm.Rows)
	}
	seen := make(map[Cell]bool)
	for _, c := range cells {
		seen[c] = true
	}
	for r := 0; r < tm.Rows; r++ {
		for c := 0; c < tm.Cols; c++ {
			if !seen[Cell{Col: c, Row: r}] {
				t.Errorf("Cells() missing (%d,%d)", c, r)
			}
		}
	}
}

func TestCellAtMatchesTileRect(t *testing.T) {
	tm := New(image.Point{X: 64, Y: 64}, image.Point{X: 16, Y: 16})
	cell := tm.CellAt(image.Point{X: 20, Y: 5})
	if cell != (Cell{Col: 1, Row: 0}) {
		t.Errorf("CellAt = %v, want {1 0}", cell)
	}
}
