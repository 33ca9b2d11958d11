package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/utils"
)

// writeSeekBuffer adapts a byte slice to io.WriteSeeker for tests.
type writeSeekBuffer struct {
	data []byte
	pos  int
}

func (b *writeSeekBuffer) Write(p []byte) (int, error) {
	if b.pos+len(p) > len(b.data) {
		grown := make([]byte, b.pos+len(p))
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		b.pos = int(offset)
	case 1:
		b.pos += int(offset)
	case 2:
		b.pos = len(b.data) + int(offset)
	}
	return int64(b.pos), nil
}

func TestWriterDecodeFloat32(t *testing.T) {
	af := geo.NewAffine(-105.0, 39.76, 0.0001, -0.0001, 0, 0, "EPSG:4326")
	buf := &writeSeekBuffer{}
	w, err := NewWriter(buf, &Options{
		Width: 40, Height: 24, NumBands: 3, RasterType: "Float32",
		TileWidth: 16, TileHeight: 16, Transform: af, Proj: "EPSG:4326",
	})
	require.NoError(t, err)

	// distinct ramp per band so interleave bugs show up
	for ty := 0; ty < 2; ty++ {
		for tx := 0; tx < 3; tx++ {
			bands := make([]utils.Raster, 3)
			for b := 0; b < 3; b++ {
				r := &utils.Float32Raster{Data: make([]float32, 16*16), Width: 16, Height: 16}
				for i := range r.Data {
					r.Data[i] = float32(b*100000 + ty*10000 + tx*1000 + i)
				}
				bands[b] = r
			}
			require.NoError(t, w.WriteBands(tx, ty, bands))
		}
	}
	require.NoError(t, w.Close())

	img, err := Decode(buf.data)
	require.NoError(t, err)
	require.Equal(t, 40, img.Width)
	require.Equal(t, 24, img.Height)
	require.Equal(t, "Float32", img.RasterType)
	require.Len(t, img.Bands, 3)

	// pixel (17, 3) lives in tile (1, 0) at local (1, 3)
	for b := 0; b < 3; b++ {
		v, err := utils.RasterSample(img.Bands[b], 17, 3)
		require.NoError(t, err)
		require.Equal(t, float64(b*100000+1000+3*16+1), v)
	}

	tr, err := DecodeTransform(buf.data)
	require.NoError(t, err)
	require.Equal(t, "EPSG:4326", tr.Code)
	X, Y := tr.Fwd(0, 0)
	require.InDelta(t, -105.0, X, 1e-12)
	require.InDelta(t, 39.76, Y, 1e-12)
}

func TestWriterPadsPartialEdgeBands(t *testing.T) {
	buf := &writeSeekBuffer{}
	w, err := NewWriter(buf, &Options{
		Width: 20, Height: 20, NumBands: 1, RasterType: "UInt16",
		TileWidth: 16, TileHeight: 16,
	})
	require.NoError(t, err)

	full := &utils.UInt16Raster{Data: make([]uint16, 16*16), Width: 16, Height: 16}
	for i := range full.Data {
		full.Data[i] = 7
	}
	require.NoError(t, w.WriteBands(0, 0, []utils.Raster{full}))

	edge := &utils.UInt16Raster{Data: make([]uint16, 4*16), Width: 4, Height: 16}
	for i := range edge.Data {
		edge.Data[i] = 9
	}
	require.NoError(t, w.WriteBands(1, 0, []utils.Raster{edge}))
	require.NoError(t, w.WriteBands(0, 1, []utils.Raster{&utils.UInt16Raster{Data: make([]uint16, 16*4), Width: 16, Height: 4}}))
	require.NoError(t, w.WriteBands(1, 1, []utils.Raster{&utils.UInt16Raster{Data: make([]uint16, 4*4), Width: 4, Height: 4}}))
	require.NoError(t, w.Close())

	img, err := Decode(buf.data)
	require.NoError(t, err)
	v, _ := utils.RasterSample(img.Bands[0], 0, 0)
	require.Equal(t, 7.0, v)
	v, _ = utils.RasterSample(img.Bands[0], 17, 0)
	require.Equal(t, 9.0, v)
}

// buildStripTIFF hand-assembles a single-strip TIFF so the decoder is
// exercised against a payload the writer cannot produce.
func buildStripTIFF(t *testing.T, width, height int, samples []uint16, deflate bool) []byte {
	t.Helper()

	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[2*i:], s)
	}
	block := raw
	compression := uint16(1)
	if deflate {
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		_, err := zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		block = zbuf.Bytes()
		compression = 8
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	dataOffset := uint32(8)
	ifdOffset := dataOffset + uint32(len(block))
	if ifdOffset%2 == 1 {
		ifdOffset++
	}
	binary.Write(&buf, binary.LittleEndian, ifdOffset)
	buf.Write(block)
	for uint32(buf.Len()) < ifdOffset {
		buf.WriteByte(0)
	}

	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}
	entries := []entry{
		{256, 4, 1, uint32(width)},
		{257, 4, 1, uint32(height)},
		{258, 3, 1, 16},
		{259, 3, 1, uint32(compression)},
		{262, 3, 1, 1},
		{273, 4, 1, dataOffset},
		{277, 3, 1, 1},
		{278, 4, 1, uint32(height)},
		{279, 4, 1, uint32(len(block))},
		{339, 3, 1, 1},
	}
	binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, e.tag)
		binary.Write(&buf, binary.LittleEndian, e.typ)
		binary.Write(&buf, binary.LittleEndian, e.count)
		binary.Write(&buf, binary.LittleEndian, e.value)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	return buf.Bytes()
}

func TestDecodeStrippedDeflate(t *testing.T) {
	samples := make([]uint16, 6*4)
	for i := range samples {
		samples[i] = uint16(i * 3)
	}

	for _, deflate := range []bool{false, true} {
		data := buildStripTIFF(t, 6, 4, samples, deflate)
		img, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, "UInt16", img.RasterType)
		require.Len(t, img.Bands, 1)
		v, err := utils.RasterSample(img.Bands[0], 5, 3)
		require.NoError(t, err)
		require.Equal(t, float64(23*3), v)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("PNG not tiff"))
	require.Error(t, err)

	_, err = Decode([]byte{})
	require.Error(t, err)
}

func TestSampleRoundTrip(t *testing.T) {
	var dst [8]byte
	putSample(dst[:], "Float64", math.Pi)
	require.Equal(t, math.Pi, math.Float64frombits(binary.LittleEndian.Uint64(dst[:])))
}
