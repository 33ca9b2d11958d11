package geotiff

import (
	"fmt"

	"github.com/rdatools/rda/geo"
)

// DecodeTransform reads the georeferencing of a GeoTIFF payload back
// as an affine transform.
func DecodeTransform(data []byte) (*geo.Affine, error) {
	r, err := newTiffReader(data)
	if err != nil {
		return nil, err
	}

	code := ""
	if keys, ok := r.intValues(tagGeoKeyDirectory); ok && len(keys) >= 4 {
		nKeys := keys[3]
		for i := 0; i < nKeys; i++ {
			base := 4 + i*4
			if base+3 >= len(keys) {
				break
			}
			switch keys[base] {
			case 2048, 3072:
				code = fmt.Sprintf("EPSG:%d", keys[base+3])
			}
		}
	}

	if m, ok := r.doubleValues(tagModelTransform); ok && len(m) == 16 {
		return &geo.Affine{
			A:    [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]},
			Code: code,
		}, nil
	}

	scale, okScale := r.doubleValues(tagModelPixelScale)
	tie, okTie := r.doubleValues(tagModelTiepoint)
	if okScale && okTie && len(scale) >= 2 && len(tie) >= 6 {
		// tiepoint maps raster (I, J) to model (X, Y)
		originX := tie[3] - tie[0]*scale[0]
		originY := tie[4] + tie[1]*scale[1]
		return geo.NewAffine(originX, originY, scale[0], -scale[1], 0, 0, code), nil
	}
	return nil, fmt.Errorf("payload carries no georeferencing tags")
}
