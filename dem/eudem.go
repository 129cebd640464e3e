package dem

import (
	"fmt"
	"io/fs"
	"slices"
)

// EU-DEM v1.1 uses the ETRS89-LAEA projection with a resolution of 25m,
// split into 1000km square tiles.
const (
	EUDEMSRID      = 3035
	EUDEMScale     = 25
	eudemTileSize  = 1000000
	eudemTileNames = "eu_dem_v11_E%02dN%02d.TIF"
)

// NewEUDEM returns a TileSet for the EU-DEM v1.1 tiles in fsys.
func NewEUDEM(fsys fs.FS, options ...TileSetOption) (*TileSet, error) {
	return NewTileSet(slices.Concat(
		[]TileSetOption{
			WithFS(fsys),
			WithSRID(EUDEMSRID),
			WithScale(EUDEMScale, EUDEMScale),
			WithTileIndexFunc(eudemTileIndex),
			WithTileFilenameFunc(eudemTileFilename),
		},
		options,
	)...)
}

func eudemTileIndex(point Point) (TileIndex, bool) {
	if point.X < 0 || point.Y < 0 {
		return TileIndex{}, false
	}
	return TileIndex{
		Col: 10 * (point.X / eudemTileSize),
		Row: 10 * (point.Y / eudemTileSize),
	}, true
}

func eudemTileFilename(tileIndex TileIndex) string {
	return fmt.Sprintf(eudemTileNames, tileIndex.Col, tileIndex.Row)
}
