package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	geom "github.com/nci/geometry"
)

const earthRadius = 6378137.0

// ReprojectBBox converts a bbox between the two grid CRSes the tile
// service publishes in. Anything else comes back as an error rather
// than a wrong answer.
func ReprojectBBox(b BBox, fromProj, toProj string) (BBox, error) {
	fromProj = strings.ToUpper(strings.TrimSpace(fromProj))
	toProj = strings.ToUpper(strings.TrimSpace(toProj))
	if fromProj == toProj {
		return b, nil
	}

	if fromProj == "EPSG:4326" && toProj == "EPSG:3857" {
		x0, y0 := lonLatToMerc(b[0], b[1])
		x1, y1 := lonLatToMerc(b[2], b[3])
		return BBox{x0, y0, x1, y1}, nil
	}
	if fromProj == "EPSG:3857" && toProj == "EPSG:4326" {
		x0, y0 := mercToLonLat(b[0], b[1])
		x1, y1 := mercToLonLat(b[2], b[3])
		return BBox{x0, y0, x1, y1}, nil
	}
	return BBox{}, fmt.Errorf("unsupported reprojection %s -> %s", fromProj, toProj)
}

func lonLatToMerc(lon, lat float64) (float64, float64) {
	x := lon * math.Pi / 180 * earthRadius
	y := math.Log(math.Tan(math.Pi/4+lat*math.Pi/360)) * earthRadius
	return x, y
}

func mercToLonLat(x, y float64) (float64, float64) {
	lon := x / earthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

// BBox2WKT renders a bbox as a WKT polygon ring.
func BBox2WKT(b BBox) string {
	return fmt.Sprintf("POLYGON ((%f %f, %f %f, %f %f, %f %f, %f %f))",
		b[0], b[1], b[2], b[1], b[2], b[3], b[0], b[3], b[0], b[1])
}

var wktNumPair = regexp.MustCompile(`(-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)\s+(-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)`)

// WKT2BBox extracts the bounding box of any WKT geometry by scanning
// its coordinate pairs.
func WKT2BBox(wkt string) (BBox, error) {
	pairs := wktNumPair.FindAllStringSubmatch(wkt, -1)
	if len(pairs) == 0 {
		return BBox{}, fmt.Errorf("no coordinates in WKT: %s", wkt)
	}
	var b BBox
	for i, p := range pairs {
		x, errX := strconv.ParseFloat(p[1], 64)
		y, errY := strconv.ParseFloat(p[2], 64)
		if errX != nil || errY != nil {
			return BBox{}, fmt.Errorf("malformed coordinate pair in WKT: %v", p[0])
		}
		if i == 0 {
			b = BBox{x, y, x, y}
			continue
		}
		b[0] = minFloat(b[0], x)
		b[1] = minFloat(b[1], y)
		b[2] = maxFloat(b[2], x)
		b[3] = maxFloat(b[3], y)
	}
	return b, nil
}

// GeometryBBox computes the bounding box of a GeoJSON geometry value
// by walking its serialized coordinate arrays, which keeps it total
// over every geometry type the library can express.
func GeometryBBox(g geom.Geometry) (BBox, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return BBox{}, fmt.Errorf("error serializing geometry: %v", err)
	}
	return GeoJSONBBox(data)
}

// GeoJSONBBox computes the bounding box of a GeoJSON geometry or
// feature document.
func GeoJSONBBox(data []byte) (BBox, error) {
	var doc map[string]interface{}
	err := json.Unmarshal(data, &doc)
	if err != nil {
		return BBox{}, fmt.Errorf("error parsing GeoJSON: %v", err)
	}
	if g, ok := doc["geometry"].(map[string]interface{}); ok {
		doc = g
	}
	coords, ok := doc["coordinates"]
	if !ok {
		return BBox{}, fmt.Errorf("GeoJSON object has no coordinates")
	}

	var b BBox
	first := true
	var walk func(v interface{}) error
	walk = func(v interface{}) error {
		arr, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("malformed GeoJSON coordinates")
		}
		if len(arr) >= 2 {
			x, xOK := arr[0].(float64)
			y, yOK := arr[1].(float64)
			if xOK && yOK {
				if first {
					b = BBox{x, y, x, y}
					first = false
				} else {
					b[0] = minFloat(b[0], x)
					b[1] = minFloat(b[1], y)
					b[2] = maxFloat(b[2], x)
					b[3] = maxFloat(b[3], y)
				}
				return nil
			}
		}
		for _, e := range arr {
			if err := walk(e); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(coords); err != nil {
		return BBox{}, err
	}
	if first {
		return BBox{}, fmt.Errorf("GeoJSON object has empty coordinates")
	}
	return b, nil
}

// BBoxFeature builds a GeoJSON polygon feature covering the bbox.
func BBoxFeature(b BBox) (*geom.Feature, error) {
	doc := fmt.Sprintf(`{"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[%f, %f], [%f, %f], [%f, %f], [%f, %f], [%f, %f]]]}}`,
		b[0], b[1], b[2], b[1], b[2], b[3], b[0], b[3], b[0], b[1])
	var feat geom.Feature
	err := json.Unmarshal([]byte(doc), &feat)
	if err != nil {
		return nil, fmt.Errorf("error building bbox feature: %v", err)
	}
	return &feat, nil
}
