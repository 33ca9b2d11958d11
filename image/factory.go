package image

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/net/context"

	"github.com/rdatools/rda/client"
	"github.com/rdatools/rda/graph"
	"github.com/rdatools/rda/utils"
)

// CatalogRecord is the slice of a catalog entry the factory needs:
// the id, the platform type tag and the flat property bag.
type CatalogRecord struct {
	ID         string            `json:"identifier"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties"`
}

// CatalogLookup resolves catalog ids to records. The catalog service
// itself is a collaborator, not part of this module.
type CatalogLookup interface {
	Lookup(ctx context.Context, id string) (*CatalogRecord, error)
}

// CatalogOptions is the union of the per-driver options the factory
// can forward. Fields a driver does not know are ignored by it.
type CatalogOptions struct {
	Options

	BandType     BandType
	Acomp        bool
	Pansharpen   bool
	DRA          bool
	DType        string
	Spec         string
	Polarization string
}

func (o CatalogOptions) worldView() WorldViewOptions {
	return WorldViewOptions{
		Options:    o.Options,
		BandType:   o.BandType,
		Acomp:      o.Acomp,
		Pansharpen: o.Pansharpen,
		DRA:        o.DRA,
		DType:      o.DType,
	}
}

// CatalogGraph builds the graph for a catalog record without
// registering it, dispatching on the record's type tag.
func CatalogGraph(rec *CatalogRecord, o CatalogOptions) (*graph.Op, error) {
	switch rec.Type {
	case "WV01", "WV02", "WV03_VNIR", "WV04", "QB02", "GE01":
		if rec.Properties["numIdahoImages"] == "0" {
			return nil, fmt.Errorf("catalog id %s has no image parts: %w", rec.ID, utils.ErrMissingIdahoImages)
		}
		return WorldViewGraph(rec.ID, o.worldView())
	case "WV03_SWIR":
		wv := o.worldView()
		wv.BandType = BandTypeSWIR
		wv.Pansharpen = false
		return WorldViewGraph(rec.ID, wv)
	case "Landsat8":
		return LandsatGraph(rec.ID, LandsatOptions{Options: o.Options, Spec: o.Spec})
	case "IKONOS":
		return IkonosGraph(rec.ID, IkonosOptions{Options: o.Options, BandType: o.BandType})
	case "SENTINEL1":
		return Sentinel1Graph(rec.ID, Sentinel1Options{Options: o.Options, Polarization: o.Polarization})
	case "SENTINEL2":
		return Sentinel2Graph(rec.ID, Sentinel2Options{Options: o.Options, Spec: o.Spec})
	case "RADARSAT2":
		return RadarsatGraph(rec.ID, o.Options)
	case "MODISProduct":
		return ModisGraph(rec.ID, o.Options)
	}
	return nil, fmt.Errorf("catalog type %q for id %s: %w", rec.Type, rec.ID, utils.ErrUnsupportedImageType)
}

// CatalogImage looks up a catalog id, builds the matching sensor
// graph and registers it. ACOMP, when requested, is checked against
// the strip first.
func CatalogImage(ctx context.Context, c *client.Client, catalog CatalogLookup, id string, o CatalogOptions) (*Image, error) {
	rec, err := catalog.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Acomp {
		ok, err := AcompAvailable(ctx, c, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("catalog id %s: %w", id, utils.ErrAcompUnavailable)
		}
	}
	op, err := CatalogGraph(rec, o)
	if err != nil {
		return nil, err
	}
	return New(ctx, c, op)
}

// IdahoImage builds and registers the graph for one IDAHO part.
func IdahoImage(ctx context.Context, c *client.Client, imageID string, o IdahoOptions) (*Image, error) {
	op, err := IdahoGraph(imageID, o)
	if err != nil {
		return nil, err
	}
	return New(ctx, c, op)
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, utils.ErrNotFound)
}

// IsAvailable reports whether the strip for a catalog id is loaded on
// the platform. Transient failures retry under the client policy.
func IsAvailable(ctx context.Context, c *client.Client, catalogID string) (bool, error) {
	body, err := c.Get(ctx, fmt.Sprintf("%s/stripMetadata/%s", c.Config().BaseURL, catalogID))
	if err != nil {
		if isNotFoundErr(err) {
			return false, nil
		}
		return false, err
	}
	var payload struct {
		Available bool `json:"available"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("undecodable strip metadata for %s: %v", catalogID, err)
	}
	return payload.Available, nil
}

// AcompAvailable reports whether atmospheric compensation can be
// applied to the strip.
func AcompAvailable(ctx context.Context, c *client.Client, catalogID string) (bool, error) {
	body, err := c.Get(ctx, fmt.Sprintf("%s/stripMetadata/%s/acomp", c.Config().BaseURL, catalogID))
	if err != nil {
		if isNotFoundErr(err) {
			return false, nil
		}
		return false, err
	}
	var payload struct {
		AcompAvailable bool `json:"acompAvailable"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("undecodable acomp metadata for %s: %v", catalogID, err)
	}
	return payload.AcompAvailable, nil
}
