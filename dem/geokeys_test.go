package dem_test

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-heightmap/dem"
)

func TestParseGeoKeyDirectory(t *testing.T) {
	// The GeoKey directory of an EU-DEM v1.1 tile.
	directory := []uint16{
		1, 1, 0, 22,
		1024, 0, 1, 1,
		1025, 0, 1, 1,
		1026, 34737, 28, 0,
		2048, 0, 1, 4258,
		2049, 34737, 86, 28,
		2050, 0, 1, 6258,
		2051, 0, 1, 8901,
		2054, 0, 1, 9102,
		2055, 34736, 1, 4,
		2056, 0, 1, 7019,
		2057, 34736, 1, 5,
		2059, 34736, 1, 6,
		2061, 34736, 1, 7,
		3072, 0, 1, 32767,
		3073, 34737, 32, 114,
		3074, 0, 1, 32767,
		3075, 0, 1, 10,
		3076, 0, 1, 9001,
		3082, 34736, 1, 2,
		3083, 34736, 1, 3,
		3088, 34736, 1, 1,
		3089, 34736, 1, 0,
	}
	doubleParams := []float64{52, 10, 4321000, 3210000, 0.0174532925199433, 6378137, 298.257222101, 0}
	asciiParams := []byte("" +
		"PCS Name = ETRS89_ETRS_LAEA|" +
		"GCS Name = GCS_ETRS_1989|Datum = D_ETRS_1989|Ellipsoid = GRS_1980|Primem = Greenwich||" +
		"ESRI PE String = PROJCS[ETRS89]|",
	)

	actual, err := dem.ParseGeoKeyDirectory(directory, doubleParams, asciiParams)
	assert.NoError(t, err)
	assert.Equal(t, &dem.GeoKeyDirectory{
		Shorts: map[dem.GeoKey]int{
			dem.GeoKeyGTModelType:     dem.ModelTypeProjected,
			dem.GeoKeyGTRasterType:    dem.RasterPixelIsArea,
			dem.GeoKeyGeodeticCRS:     4258,
			dem.GeoKeyGeodeticDatum:   6258,
			dem.GeoKeyPrimeMeridian:   8901,
			dem.GeoKeyAngularUnits:    9102,
			dem.GeoKeyEllipsoid:       7019,
			dem.GeoKeyProjectedCRS:    32767,
			dem.GeoKeyProjection:      32767,
			dem.GeoKeyProjMethod:      10,
			dem.GeoKeyProjLinearUnits: 9001,
		},
		Doubles: map[dem.GeoKey]float64{
			dem.GeoKeyGeogAngularUnitSize:                  0.0174532925199433,
			dem.GeoKeyEllipsoidSemiMajorAxis:               6378137,
			dem.GeoKeyEllipsoidInvFlattening:               298.257222101,
			dem.GeoKeyPrimeMeridianLongitude:               0,
			dem.GeoKeyFalseEastingProjLinearParameters:     4321000,
			dem.GeoKeyFalseNorthingProjLinearParameters:    3210000,
			dem.GeoKeyCenterLongitudeProjAngularParameters: 10,
			dem.GeoKeyCenterLatitudeProjAngularParameters:  52,
		},
		ASCII: map[dem.GeoKey]string{
			dem.GeoKeyGTCitation:   "PCS Name = ETRS89_ETRS_LAEA|",
			dem.GeoKeyGeogCitation: "GCS Name = GCS_ETRS_1989|Datum = D_ETRS_1989|Ellipsoid = GRS_1980|Primem = Greenwich||",
			dem.GeoKeyPCSCitation:  "ESRI PE String = PROJCS[ETRS89]|",
		},
	}, actual)
}

func TestParseGeoKeyDirectoryErrors(t *testing.T) {
	for _, tc := range []struct {
		name           string
		directory      []uint16
		doubleParams   []float64
		asciiParams    string
		errUnsupported bool
	}{
		{
			name:      "empty",
			directory: []uint16{},
		},
		{
			name:      "version",
			directory: []uint16{2, 1, 0, 0},
		},
		{
			name:      "truncated",
			directory: []uint16{1, 1, 0, 2, 1024, 0, 1, 1},
		},
		{
			name:      "multiple_inline_values",
			directory: []uint16{1, 1, 0, 1, 1024, 0, 2, 1},
		},
		{
			name:      "double_out_of_range",
			directory: []uint16{1, 1, 0, 1, 2057, 34736, 1, 1},
			doubleParams: []float64{
				6378137,
			},
		},
		{
			name:        "ascii_out_of_range",
			directory:   []uint16{1, 1, 0, 1, 1026, 34737, 8, 4},
			asciiParams: "PCS Name|",
		},
		{
			name:           "unknown_location",
			directory:      []uint16{1, 1, 0, 1, 1026, 12345, 1, 0},
			errUnsupported: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := dem.ParseGeoKeyDirectory(tc.directory, tc.doubleParams, []byte(tc.asciiParams))
			assert.Error(t, err)
			assert.Equal(t, tc.errUnsupported, errors.Is(err, errors.ErrUnsupported))
		})
	}
}
