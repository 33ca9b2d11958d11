package client

import (
	"fmt"

	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/utils"
)

// ImageGrid is the image block of the metadata service: the axis
// aligned tile grid in pixel coordinates. The valid region
// [MinX..MaxX, MinY..MaxY] may be a non-tile-aligned sub-rectangle of
// the grid.
type ImageGrid struct {
	MinX      int    `json:"minX"`
	MinY      int    `json:"minY"`
	MaxX      int    `json:"maxX"`
	MaxY      int    `json:"maxY"`
	MinTileX  int    `json:"minTileX"`
	MaxTileX  int    `json:"maxTileX"`
	MinTileY  int    `json:"minTileY"`
	MaxTileY  int    `json:"maxTileY"`
	TileXSize int    `json:"tileXSize"`
	TileYSize int    `json:"tileYSize"`
	NumBands  int    `json:"numBands"`
	DataType  string `json:"dataType"`
}

func (g *ImageGrid) NumXTiles() int {
	return g.MaxTileX - g.MinTileX + 1
}

func (g *ImageGrid) NumYTiles() int {
	return g.MaxTileY - g.MinTileY + 1
}

// Georef is the affine georeferencing block; present for ortho
// products only.
type Georef struct {
	TranslateX                 float64 `json:"translateX"`
	TranslateY                 float64 `json:"translateY"`
	ScaleX                     float64 `json:"scaleX"`
	ScaleY                     float64 `json:"scaleY"`
	ShearX                     float64 `json:"shearX"`
	ShearY                     float64 `json:"shearY"`
	SpatialReferenceSystemCode string  `json:"spatialReferenceSystemCode"`
}

// RPCs is the rational polynomial block; present for non-ortho
// products only.
type RPCs struct {
	LineNumCoefs   []float64 `json:"lineNumCoefs"`
	LineDenCoefs   []float64 `json:"lineDenCoefs"`
	SampleNumCoefs []float64 `json:"sampleNumCoefs"`
	SampleDenCoefs []float64 `json:"sampleDenCoefs"`
	LonOffset      float64   `json:"lonOffset"`
	LonScale       float64   `json:"lonScale"`
	LatOffset      float64   `json:"latOffset"`
	LatScale       float64   `json:"latScale"`
	HeightOffset   float64   `json:"heightOffset"`
	HeightScale    float64   `json:"heightScale"`
	SampleOffset   float64   `json:"sampleOffset"`
	SampleScale    float64   `json:"sampleScale"`
	LineOffset     float64   `json:"lineOffset"`
	LineScale      float64   `json:"lineScale"`
}

// ImageMetadata is the full metadata record for a (graph, node) pair.
// Exactly one of Georef and RPCs is present.
type ImageMetadata struct {
	Image  ImageGrid `json:"image"`
	Georef *Georef   `json:"georef,omitempty"`
	RPCs   *RPCs     `json:"rpcs,omitempty"`
}

// RasterType maps the metadata data type onto the processor raster
// vocabulary.
func (m *ImageMetadata) RasterType() (string, error) {
	return utils.DataTypeToRasterType(m.Image.DataType)
}

// Transform builds the geotransform variant the metadata carries.
func (m *ImageMetadata) Transform() (geo.Transform, error) {
	if m.Georef != nil && m.RPCs != nil {
		return nil, fmt.Errorf("metadata carries both georef and rpcs")
	}
	if m.Georef != nil {
		g := m.Georef
		return geo.NewAffine(g.TranslateX, g.TranslateY, g.ScaleX, g.ScaleY, g.ShearX, g.ShearY, g.SpatialReferenceSystemCode), nil
	}
	if m.RPCs != nil {
		r := &geo.RPC{
			LonOffset: m.RPCs.LonOffset, LonScale: m.RPCs.LonScale,
			LatOffset: m.RPCs.LatOffset, LatScale: m.RPCs.LatScale,
			HeightOffset: m.RPCs.HeightOffset, HeightScale: m.RPCs.HeightScale,
			SampOffset: m.RPCs.SampleOffset, SampScale: m.RPCs.SampleScale,
			LineOffset: m.RPCs.LineOffset, LineScale: m.RPCs.LineScale,
		}
		if len(m.RPCs.LineNumCoefs) != 20 || len(m.RPCs.LineDenCoefs) != 20 ||
			len(m.RPCs.SampleNumCoefs) != 20 || len(m.RPCs.SampleDenCoefs) != 20 {
			return nil, fmt.Errorf("rpc block does not carry 20-term coefficients")
		}
		copy(r.LineNumCoefs[:], m.RPCs.LineNumCoefs)
		copy(r.LineDenCoefs[:], m.RPCs.LineDenCoefs)
		copy(r.SampNumCoefs[:], m.RPCs.SampleNumCoefs)
		copy(r.SampDenCoefs[:], m.RPCs.SampleDenCoefs)
		return r, nil
	}
	return nil, fmt.Errorf("metadata carries neither georef nor rpcs")
}

// BandStats is the per-band display statistics record.
type BandStats struct {
	Offset float64 `json:"offset"`
	Scale  float64 `json:"scale"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type DisplayStats struct {
	Bands []BandStats `json:"bands"`
}

// MaterializeRequest is an async bulk-render job submission.
type MaterializeRequest struct {
	GraphID      string     `json:"imageReference,omitempty"`
	TemplateID   string     `json:"templateId,omitempty"`
	NodeID       string     `json:"nodeId"`
	Bounds       *geo.BBox  `json:"cropGeometryWGS84,omitempty"`
	Callback     string     `json:"callbackUrl,omitempty"`
	OutputFormat string     `json:"imageFormat"`
	Params       map[string]string `json:"parameters,omitempty"`
}

type MaterializeStatus struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Detail string `json:"statusMessage,omitempty"`
}
