package dem

import (
	"errors"
	"fmt"
)

// A GeoKey identifies an entry in a GeoTIFF GeoKey directory.
type GeoKey uint16

// GeoKeys, see http://docs.opengeospatial.org/is/19-008r4/19-008r4.html.
const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS            GeoKey = 2048
	GeoKeyGeogCitation           GeoKey = 2049
	GeoKeyGeodeticDatum          GeoKey = 2050
	GeoKeyPrimeMeridian          GeoKey = 2051
	GeoKeyAngularUnits           GeoKey = 2054
	GeoKeyGeogAngularUnitSize    GeoKey = 2055
	GeoKeyEllipsoid              GeoKey = 2056
	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidInvFlattening GeoKey = 2059
	GeoKeyPrimeMeridianLongitude GeoKey = 2061

	GeoKeyProjectedCRS                         GeoKey = 3072
	GeoKeyPCSCitation                          GeoKey = 3073
	GeoKeyProjection                           GeoKey = 3074
	GeoKeyProjMethod                           GeoKey = 3075
	GeoKeyProjLinearUnits                      GeoKey = 3076
	GeoKeyFalseEastingProjLinearParameters     GeoKey = 3082
	GeoKeyFalseNorthingProjLinearParameters    GeoKey = 3083
	GeoKeyCenterLongitudeProjAngularParameters GeoKey = 3088
	GeoKeyCenterLatitudeProjAngularParameters  GeoKey = 3089
)

// Values of GeoKeyGTModelType and GeoKeyGTRasterType.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
	RasterPixelIsArea   = 1
	RasterPixelIsPoint  = 2
)

const (
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
)

var errGeoKeyDirectory = errors.New("invalid GeoKey directory")

// A GeoKeyDirectory holds the values of a GeoTIFF's GeoKeys.
type GeoKeyDirectory struct {
	Shorts  map[GeoKey]int
	Doubles map[GeoKey]float64
	ASCII   map[GeoKey]string
}

// ParseGeoKeyDirectory parses a GeoKeyDirectoryTag and its associated
// GeoDoubleParamsTag and GeoASCIIParamsTag values.
func ParseGeoKeyDirectory(directory []uint16, doubleParams []float64, asciiParams []byte) (*GeoKeyDirectory, error) {
	if len(directory) < 4 {
		return nil, errGeoKeyDirectory
	}
	version, revision, minorRevision, keyCount := directory[0], directory[1], directory[2], int(directory[3])
	switch {
	case version != 1 || revision != 1:
		return nil, fmt.Errorf("%w: version %d.%d", errGeoKeyDirectory, version, revision)
	case minorRevision > 1:
		return nil, fmt.Errorf("%w: minor revision %d", errGeoKeyDirectory, minorRevision)
	case len(directory) != 4+4*keyCount:
		return nil, fmt.Errorf("%w: %d keys in %d entries", errGeoKeyDirectory, keyCount, len(directory))
	}

	d := &GeoKeyDirectory{
		Shorts:  make(map[GeoKey]int),
		Doubles: make(map[GeoKey]float64),
		ASCII:   make(map[GeoKey]string),
	}
	for entry := range keyCount {
		key := GeoKey(directory[4+4*entry])
		location := directory[4+4*entry+1]
		count := int(directory[4+4*entry+2])
		valueOrOffset := int(directory[4+4*entry+3])
		switch location {
		case 0:
			if count != 1 {
				return nil, fmt.Errorf("%w: key %d: %d inline values", errGeoKeyDirectory, key, count)
			}
			d.Shorts[key] = valueOrOffset
		case tagGeoDoubleParams:
			if count != 1 {
				return nil, fmt.Errorf("key %d: %d doubles: %w", key, count, errors.ErrUnsupported)
			}
			if valueOrOffset >= len(doubleParams) {
				return nil, fmt.Errorf("%w: key %d: double index %d out of range", errGeoKeyDirectory, key, valueOrOffset)
			}
			d.Doubles[key] = doubleParams[valueOrOffset]
		case tagGeoASCIIParams:
			if valueOrOffset+count > len(asciiParams) {
				return nil, fmt.Errorf("%w: key %d: ASCII range out of bounds", errGeoKeyDirectory, key)
			}
			d.ASCII[key] = string(asciiParams[valueOrOffset : valueOrOffset+count])
		default:
			return nil, fmt.Errorf("key %d: tag %d: %w", key, location, errors.ErrUnsupported)
		}
	}
	return d, nil
}
