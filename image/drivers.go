package image

import (
	"fmt"

	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/graph"
	"github.com/rdatools/rda/utils"
)

// Options common to every driver. An empty Proj leaves the product in
// its native projection; GSD of zero keeps the native resolution.
type Options struct {
	Proj string
	GSD  float64
}

const defaultProj = "EPSG:4326"

const defaultIdahoBucket = "idaho-images"

// Correction types the platform understands.
const (
	CorrectionDN    = "DN"
	CorrectionTOA   = "TOAREFLECTANCE"
	CorrectionAcomp = "ACOMP"
)

// BandType selects the sensor band group.
type BandType string

const (
	BandTypeMS       BandType = "MS"
	BandTypePan      BandType = "Pan"
	BandTypeSWIR     BandType = "SWIR"
	BandTypePanSharp BandType = "PANSHARP"
)

// formatDataType maps a user-facing element type name onto the
// platform data type vocabulary for the Format operator.
func formatDataType(dtype string) (string, error) {
	switch dtype {
	case "", "float32":
		return utils.DTypeFloat, nil
	case "byte", "uint8":
		return utils.DTypeByte, nil
	case "int16":
		return utils.DTypeShort, nil
	case "uint16":
		return utils.DTypeUShort, nil
	case "int32":
		return utils.DTypeInt, nil
	case "uint32":
		return utils.DTypeUInt, nil
	case "int64":
		return utils.DTypeLong, nil
	case "uint64":
		return utils.DTypeULong, nil
	case "float64":
		return utils.DTypeDouble, nil
	}
	return "", fmt.Errorf("element type %q: %w", dtype, utils.ErrBadParameter)
}

// maybeReproject appends a Reproject node when a target projection is
// requested.
func maybeReproject(op *graph.Op, o Options) (*graph.Op, error) {
	if o.Proj == "" {
		return op, nil
	}
	params := map[string]interface{}{
		"Dest CRS": o.Proj,
	}
	if o.GSD > 0 {
		params["Dest pixel-to-world transform"] = fmt.Sprintf("%g,0,0,0,-%g,0", o.GSD, o.GSD)
	}
	return graph.NewOp("Reproject", params, op)
}

// IdahoOptions drive single-part IDAHO products.
type IdahoOptions struct {
	Options

	// CorrectionType, when empty, is derived from Acomp and Bucket.
	CorrectionType string
	Bucket         string
	Acomp          bool
	// Spec is "1b" for the raw sensor geometry or "ortho".
	Spec  string
	Bands string
}

// normalize applies the ACOMP selection rule: ACOMP only when it was
// asked for and the part lives outside the default TOA bucket.
func (o *IdahoOptions) normalize() {
	if o.CorrectionType != "" {
		return
	}
	if o.Acomp && o.Bucket != "" && o.Bucket != defaultIdahoBucket {
		o.CorrectionType = CorrectionAcomp
		return
	}
	o.CorrectionType = CorrectionTOA
}

// IdahoGraph builds the graph for one IDAHO part. The 1b spec reads
// the part in sensor geometry; ortho wraps the strip image in an
// orthorectification.
func IdahoGraph(imageID string, o IdahoOptions) (*graph.Op, error) {
	o.normalize()
	bucket := o.Bucket
	if bucket == "" {
		bucket = defaultIdahoBucket
	}

	if o.Spec == "" || o.Spec == "1b" {
		params := map[string]interface{}{
			"imageId":        imageID,
			"bucketName":     bucket,
			"objectStore":    "S3",
			"correctionType": o.CorrectionType,
		}
		if o.Bands != "" {
			params["bands"] = o.Bands
		}
		return graph.NewOp("IdahoRead", params)
	}
	if o.Spec != "ortho" {
		return nil, fmt.Errorf("idaho spec %q: %w", o.Spec, utils.ErrBadParameter)
	}

	img, err := graph.NewOp("DigitalGlobeImage", map[string]interface{}{
		"imageId":        imageID,
		"bucketName":     bucket,
		"correctionType": o.CorrectionType,
	})
	if err != nil {
		return nil, err
	}
	proj := o.Proj
	if proj == "" {
		proj = defaultProj
	}
	return graph.NewOp("Orthorectify", map[string]interface{}{
		"CRS": proj,
	}, img)
}

// WorldViewOptions drive the WV/GeoEye/QuickBird strip products.
type WorldViewOptions struct {
	Options

	BandType   BandType
	Acomp      bool
	Pansharpen bool
	DRA        bool
	// DType is the user-facing element type for the Format node.
	DType string

	correctionType string
}

func (o *WorldViewOptions) normalize() {
	if o.BandType == "" {
		o.BandType = BandTypeMS
	}
	if o.Pansharpen {
		o.BandType = BandTypePanSharp
	}
	if o.Acomp {
		o.correctionType = CorrectionAcomp
	} else {
		o.correctionType = CorrectionTOA
	}
	if o.Proj == "" {
		o.Proj = defaultProj
	}
}

func worldViewStrip(catalogID string, o WorldViewOptions, bands BandType) (*graph.Op, error) {
	params := map[string]interface{}{
		"catId":          catalogID,
		"bands":          string(bands),
		"correctionType": o.correctionType,
		"CRS":            o.Proj,
	}
	if o.GSD > 0 {
		params["GSD"] = o.GSD
	}
	if o.DRA {
		params["draType"] = "HistogramDRA"
	} else {
		params["draType"] = "None"
	}
	return graph.NewOp("DigitalGlobeStrip", params)
}

// WorldViewGraph builds the strip graph for one catalog id. A
// pansharpened product overlays the panchromatic and multispectral
// subgraphs; everything else is a single strip wrapped in a Format
// node.
func WorldViewGraph(catalogID string, o WorldViewOptions) (*graph.Op, error) {
	o.normalize()
	dataType, err := formatDataType(o.DType)
	if err != nil {
		return nil, err
	}

	var root *graph.Op
	if o.BandType == BandTypePanSharp {
		pan, err := worldViewStrip(catalogID, o, BandTypePan)
		if err != nil {
			return nil, err
		}
		ms, err := worldViewStrip(catalogID, o, BandTypeMS)
		if err != nil {
			return nil, err
		}
		root, err = graph.NewOp("LocallyProjectivePanSharpen", nil, ms, pan)
		if err != nil {
			return nil, err
		}
	} else {
		root, err = worldViewStrip(catalogID, o, o.BandType)
		if err != nil {
			return nil, err
		}
	}
	return graph.NewOp("Format", map[string]interface{}{
		"dataType": dataType,
	}, root)
}

// LandsatOptions drive Landsat-8 scenes.
type LandsatOptions struct {
	Options
	// Spec is "multispectral" (default) or "panchromatic".
	Spec string
}

func LandsatGraph(sceneID string, o LandsatOptions) (*graph.Op, error) {
	spec := o.Spec
	if spec == "" {
		spec = "multispectral"
	}
	op, err := graph.NewOp("LandsatRead", map[string]interface{}{
		"landsatId":   sceneID,
		"productSpec": spec,
	})
	if err != nil {
		return nil, err
	}
	return maybeReproject(op, o.Options)
}

// Sentinel2Options drive Sentinel-2 granules at one of the fixed
// resolutions.
type Sentinel2Options struct {
	Options
	// Spec is "10m" (default), "20m" or "60m".
	Spec string
}

func Sentinel2Graph(granuleID string, o Sentinel2Options) (*graph.Op, error) {
	spec := o.Spec
	if spec == "" {
		spec = "10m"
	}
	op, err := graph.NewOp("SentinelRead", map[string]interface{}{
		"sentinelId":  granuleID,
		"productSpec": spec,
	})
	if err != nil {
		return nil, err
	}
	return maybeReproject(op, o.Options)
}

// Sentinel1Options drive Sentinel-1 SAR granules.
type Sentinel1Options struct {
	Options
	// Polarization is one of VH, VV, HH, HV; VV when empty.
	Polarization string
}

func Sentinel1Graph(granuleID string, o Sentinel1Options) (*graph.Op, error) {
	pol := o.Polarization
	if pol == "" {
		pol = "VV"
	}
	switch pol {
	case "VH", "VV", "HH", "HV":
	default:
		return nil, fmt.Errorf("polarization %q: %w", pol, utils.ErrBadParameter)
	}
	op, err := graph.NewOp("SentinelRead", map[string]interface{}{
		"sentinelId":   granuleID,
		"polarization": pol,
	})
	if err != nil {
		return nil, err
	}
	return maybeReproject(op, o.Options)
}

// ModisGraph builds the graph for a MODIS product.
func ModisGraph(productID string, o Options) (*graph.Op, error) {
	op, err := graph.NewOp("ModisRead", map[string]interface{}{
		"modisId": productID,
	})
	if err != nil {
		return nil, err
	}
	return maybeReproject(op, o)
}

// RadarsatGraph orthorectifies the raw SAR scene, then reprojects
// when asked to.
func RadarsatGraph(sceneID string, o Options) (*graph.Op, error) {
	read, err := graph.NewOp("RadarsatRead", map[string]interface{}{
		"radarsatId": sceneID,
	})
	if err != nil {
		return nil, err
	}
	proj := o.Proj
	if proj == "" {
		proj = defaultProj
	}
	ortho, err := graph.NewOp("Orthorectify", map[string]interface{}{
		"CRS": proj,
	}, read)
	if err != nil {
		return nil, err
	}
	if o.Proj == "" {
		return ortho, nil
	}
	return maybeReproject(ortho, o)
}

// IkonosOptions drive Ikonos archive products.
type IkonosOptions struct {
	Options
	BandType BandType
}

// IkonosGraph orthorectifies the selected band group; a pansharpened
// product overlays the ortho pan and multispectral reads.
func IkonosGraph(productID string, o IkonosOptions) (*graph.Op, error) {
	if o.BandType == "" {
		o.BandType = BandTypeMS
	}
	proj := o.Proj
	if proj == "" {
		proj = defaultProj
	}
	ortho := func(bands BandType) (*graph.Op, error) {
		read, err := graph.NewOp("IkonosRead", map[string]interface{}{
			"productId": productID,
			"bands":     string(bands),
		})
		if err != nil {
			return nil, err
		}
		return graph.NewOp("Orthorectify", map[string]interface{}{
			"CRS": proj,
		}, read)
	}

	if o.BandType != BandTypePanSharp {
		return ortho(o.BandType)
	}
	ms, err := ortho(BandTypeMS)
	if err != nil {
		return nil, err
	}
	pan, err := ortho(BandTypePan)
	if err != nil {
		return nil, err
	}
	return graph.NewOp("LocallyProjectivePanSharpen", nil, ms, pan)
}

// DEMOptions drive crops of the global elevation template.
type DEMOptions struct {
	Options
	BBox geo.BBox
}

func DEMGraph(o DEMOptions) (*graph.Op, error) {
	if o.BBox == (geo.BBox{}) {
		return nil, fmt.Errorf("dem needs a bbox: %w", utils.ErrBadParameter)
	}
	op, err := graph.NewOp("DigitalElevationModel", map[string]interface{}{
		"bbox": fmt.Sprintf("%g,%g,%g,%g", o.BBox[0], o.BBox[1], o.BBox[2], o.BBox[3]),
	})
	if err != nil {
		return nil, err
	}
	return maybeReproject(op, o.Options)
}

// S3Options drive raw rasters hosted on object storage.
type S3Options struct {
	Options
	// SrcProj overrides the projection recorded in the raster itself.
	SrcProj string
}

func S3Graph(path string, o S3Options) (*graph.Op, error) {
	if path == "" {
		return nil, fmt.Errorf("s3 image needs a path: %w", utils.ErrBadParameter)
	}
	params := map[string]interface{}{
		"path": path,
	}
	if o.SrcProj != "" {
		params["Source CRS"] = o.SrcProj
	}
	op, err := graph.NewOp("RasterRead", params)
	if err != nil {
		return nil, err
	}
	return maybeReproject(op, o.Options)
}
