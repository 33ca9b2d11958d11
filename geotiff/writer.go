package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/utils"
)

// Options describes the output raster of a Writer.
type Options struct {
	Width, Height         int
	NumBands              int
	RasterType            string
	TileWidth, TileHeight int
	Transform             geo.Transform
	Proj                  string
}

// Writer streams tiles into a tiled GeoTIFF. Tiles may arrive in any
// order; the IFD is written on Close. Edge tiles must be padded to the
// full tile shape by the caller.
type Writer struct {
	ws      io.WriteSeeker
	opts    Options
	pixSize int
	offsets []uint32
	counts  []uint32
	pos     int64
	closed  bool
}

func NewWriter(ws io.WriteSeeker, opts *Options) (*Writer, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.NumBands <= 0 {
		return nil, fmt.Errorf("writer needs positive width, height and band count")
	}
	if opts.TileWidth <= 0 || opts.TileHeight <= 0 {
		return nil, fmt.Errorf("writer needs positive tile shape")
	}
	size, err := utils.RasterTypeSize(opts.RasterType)
	if err != nil {
		return nil, err
	}

	w := &Writer{ws: ws, opts: *opts, pixSize: size}
	nTiles := w.tilesAcross() * w.tilesDown()
	w.offsets = make([]uint32, nTiles)
	w.counts = make([]uint32, nTiles)

	// header with a zero IFD offset, patched on Close
	hdr := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if _, err := ws.Write(hdr); err != nil {
		return nil, err
	}
	w.pos = 8
	return w, nil
}

func (w *Writer) tilesAcross() int {
	return (w.opts.Width + w.opts.TileWidth - 1) / w.opts.TileWidth
}

func (w *Writer) tilesDown() int {
	return (w.opts.Height + w.opts.TileHeight - 1) / w.opts.TileHeight
}

func (w *Writer) tileSize() int {
	return w.opts.TileWidth * w.opts.TileHeight * w.opts.NumBands * w.pixSize
}

// WriteTile stores one full tile of band-interleaved little-endian
// samples at tile coordinates (tileX, tileY) of the output grid.
func (w *Writer) WriteTile(tileX, tileY int, data []byte) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if tileX < 0 || tileX >= w.tilesAcross() || tileY < 0 || tileY >= w.tilesDown() {
		return fmt.Errorf("tile (%d, %d) outside output grid", tileX, tileY)
	}
	if len(data) != w.tileSize() {
		return fmt.Errorf("tile (%d, %d): got %d bytes, want %d", tileX, tileY, len(data), w.tileSize())
	}

	idx := tileY*w.tilesAcross() + tileX
	w.offsets[idx] = uint32(w.pos)
	w.counts[idx] = uint32(len(data))
	if _, err := w.ws.Write(data); err != nil {
		return err
	}
	w.pos += int64(len(data))
	return nil
}

// WriteBands packs per-band tile rasters into the interleaved layout
// and stores them. Rasters smaller than the tile shape are zero-padded
// on the right and bottom.
func (w *Writer) WriteBands(tileX, tileY int, bands []utils.Raster) error {
	if len(bands) != w.opts.NumBands {
		return fmt.Errorf("tile (%d, %d): got %d bands, want %d", tileX, tileY, len(bands), w.opts.NumBands)
	}
	data := make([]byte, w.tileSize())
	for b, band := range bands {
		bw, bh, err := utils.RasterShape(band)
		if err != nil {
			return err
		}
		if bw > w.opts.TileWidth || bh > w.opts.TileHeight {
			return fmt.Errorf("tile (%d, %d): band shape %dx%d exceeds tile shape", tileX, tileY, bw, bh)
		}
		for y := 0; y < bh; y++ {
			for x := 0; x < bw; x++ {
				v, err := utils.RasterSample(band, x, y)
				if err != nil {
					return err
				}
				off := ((y*w.opts.TileWidth+x)*w.opts.NumBands + b) * w.pixSize
				putSample(data[off:], w.opts.RasterType, v)
			}
		}
	}
	return w.WriteTile(tileX, tileY, data)
}

func putSample(dst []byte, rType string, v float64) {
	switch rType {
	case "Byte", "Bool":
		dst[0] = uint8(v)
	case "Int16":
		binary.LittleEndian.PutUint16(dst, uint16(int16(v)))
	case "UInt16":
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case "Int32":
		binary.LittleEndian.PutUint32(dst, uint32(int32(v)))
	case "UInt32":
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case "Int64":
		binary.LittleEndian.PutUint64(dst, uint64(int64(v)))
	case "UInt64":
		binary.LittleEndian.PutUint64(dst, uint64(v))
	case "Float32":
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	case "Float64":
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
	}
}

type tagValue struct {
	tag      uint16
	datatype uint16
	values   []uint32 // SHORT/LONG values
	doubles  []float64
}

// Close writes the IFD and patches the header offset.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	bits, format := sampleLayout(w.opts.RasterType)
	nb := uint32(w.opts.NumBands)

	tags := []tagValue{
		{tag: tagImageWidth, datatype: 4, values: []uint32{uint32(w.opts.Width)}},
		{tag: tagImageLength, datatype: 4, values: []uint32{uint32(w.opts.Height)}},
		{tag: tagBitsPerSample, datatype: 3, values: repeatU32(bits, nb)},
		{tag: tagCompression, datatype: 3, values: []uint32{compressionNone}},
		{tag: tagPhotometric, datatype: 3, values: []uint32{1}},
		{tag: tagSamplesPerPixel, datatype: 3, values: []uint32{nb}},
		{tag: tagPlanarConfig, datatype: 3, values: []uint32{1}},
		{tag: tagTileWidth, datatype: 3, values: []uint32{uint32(w.opts.TileWidth)}},
		{tag: tagTileLength, datatype: 3, values: []uint32{uint32(w.opts.TileHeight)}},
		{tag: tagTileOffsets, datatype: 4, values: w.offsets},
		{tag: tagTileByteCounts, datatype: 4, values: w.counts},
		{tag: tagSampleFormat, datatype: 3, values: repeatU32(format, nb)},
	}

	if af, ok := w.opts.Transform.(*geo.Affine); ok {
		if af.A[2] == 0 && af.A[4] == 0 {
			tags = append(tags,
				tagValue{tag: tagModelPixelScale, datatype: 12, doubles: []float64{af.A[1], math.Abs(af.A[5]), 0}},
				tagValue{tag: tagModelTiepoint, datatype: 12, doubles: []float64{0, 0, 0, af.A[0], af.A[3], 0}},
			)
		} else {
			tags = append(tags, tagValue{tag: tagModelTransform, datatype: 12, doubles: []float64{
				af.A[1], af.A[2], 0, af.A[0],
				af.A[4], af.A[5], 0, af.A[3],
				0, 0, 0, 0,
				0, 0, 0, 1,
			}})
		}
	}
	if keys := geoKeys(w.opts.Proj); len(keys) > 0 {
		tags = append(tags, tagValue{tag: tagGeoKeyDirectory, datatype: 3, values: keys})
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i].tag < tags[j].tag })

	ifdOffset := w.pos
	if ifdOffset%2 == 1 {
		if _, err := w.ws.Write([]byte{0}); err != nil {
			return err
		}
		ifdOffset++
	}

	// entry block first, out-of-line values after it
	entrySize := int64(2 + len(tags)*12 + 4)
	valueOffset := ifdOffset + entrySize

	entries := make([]byte, 0, entrySize)
	var values []byte
	u16 := func(b []byte, v uint16) []byte {
		return append(b, byte(v), byte(v>>8))
	}
	u32 := func(b []byte, v uint32) []byte {
		return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}

	entries = u16(entries, uint16(len(tags)))
	for _, t := range tags {
		count := len(t.values)
		if t.datatype == 12 {
			count = len(t.doubles)
		}
		entries = u16(entries, t.tag)
		entries = u16(entries, t.datatype)
		entries = u32(entries, uint32(count))

		var payload []byte
		switch t.datatype {
		case 3:
			for _, v := range t.values {
				payload = u16(payload, uint16(v))
			}
		case 4:
			for _, v := range t.values {
				payload = u32(payload, v)
			}
		case 12:
			for _, v := range t.doubles {
				bits := math.Float64bits(v)
				payload = u32(payload, uint32(bits))
				payload = u32(payload, uint32(bits>>32))
			}
		}

		if len(payload) <= 4 {
			for len(payload) < 4 {
				payload = append(payload, 0)
			}
			entries = append(entries, payload...)
		} else {
			entries = u32(entries, uint32(valueOffset+int64(len(values))))
			values = append(values, payload...)
		}
	}
	entries = u32(entries, 0) // no next IFD

	if _, err := w.ws.Write(entries); err != nil {
		return err
	}
	if _, err := w.ws.Write(values); err != nil {
		return err
	}

	// patch the header's first-IFD offset
	if _, err := w.ws.Seek(4, io.SeekStart); err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(ifdOffset))
	if _, err := w.ws.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.ws.Seek(0, io.SeekEnd)
	return err
}

func repeatU32(v uint32, n uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func sampleLayout(rType string) (uint32, uint32) {
	switch rType {
	case "Byte", "Bool":
		return 8, sampleFormatUint
	case "Int16":
		return 16, sampleFormatInt
	case "UInt16":
		return 16, sampleFormatUint
	case "Int32":
		return 32, sampleFormatInt
	case "UInt32":
		return 32, sampleFormatUint
	case "Int64":
		return 64, sampleFormatInt
	case "UInt64":
		return 64, sampleFormatUint
	case "Float32":
		return 32, sampleFormatFloat
	case "Float64":
		return 64, sampleFormatFloat
	}
	return 8, sampleFormatUint
}

// geoKeys renders a minimal GeoKey directory for an EPSG-coded CRS.
func geoKeys(proj string) []uint32 {
	proj = strings.ToUpper(strings.TrimSpace(proj))
	if !strings.HasPrefix(proj, "EPSG:") {
		return nil
	}
	code, err := strconv.Atoi(proj[5:])
	if err != nil {
		return nil
	}

	geographic := code == 4326
	keys := []uint32{1, 1, 0, 3}
	if geographic {
		keys = append(keys,
			1024, 0, 1, 2, // GTModelType: geographic
			1025, 0, 1, 1, // GTRasterType: pixel is area
			2048, 0, 1, uint32(code),
		)
	} else {
		keys = append(keys,
			1024, 0, 1, 1, // GTModelType: projected
			1025, 0, 1, 1,
			3072, 0, 1, uint32(code),
		)
	}
	return keys
}
