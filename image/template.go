package image

import (
	"golang.org/x/net/context"

	"github.com/rdatools/rda/client"
	"github.com/rdatools/rda/geo"
)

// TemplateImage builds a view over a server-stored template with the
// given parameter substitutions. It behaves exactly like a graph
// image; only the addressing differs.
func TemplateImage(ctx context.Context, c *client.Client, templateID, nodeID string, params map[string]string) (*Image, error) {
	meta, err := c.TemplateMetadata(ctx, templateID, nodeID, params)
	if err != nil {
		return nil, err
	}
	img, err := fromMetadata(c, meta, func(tileX, tileY int) string {
		return c.TemplateTileURL(templateID, nodeID, tileX, tileY, params)
	})
	if err != nil {
		return nil, err
	}
	img.graphID = templateID
	img.nodeID = nodeID
	return img, nil
}

// Materialize submits an async bulk render of the view and returns
// the job id. The crop bounds are the view footprint in WGS84.
func (i *Image) Materialize(ctx context.Context, format, callback string) (string, error) {
	bounds := geo.BBoxFromWindow(i.transform, geo.Window{W: i.window.W, H: i.window.H})
	if i.Proj() != "EPSG:4326" {
		var err error
		bounds, err = geo.ReprojectBBox(bounds, i.Proj(), "EPSG:4326")
		if err != nil {
			return "", err
		}
	}
	if format == "" {
		format = "TIF"
	}
	return i.client.Materialize(ctx, &client.MaterializeRequest{
		GraphID:      i.graphID,
		NodeID:       i.nodeID,
		Bounds:       &bounds,
		Callback:     callback,
		OutputFormat: format,
	})
}

// MaterializeStatus polls a previously submitted render job.
func (i *Image) MaterializeStatus(ctx context.Context, jobID string) (*client.MaterializeStatus, error) {
	return i.client.MaterializeStatus(ctx, jobID)
}
