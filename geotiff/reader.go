// Package geotiff reads and writes the GeoTIFF payloads the tile
// service speaks. The generic Go image decoders stop at RGBA-shaped
// rasters; satellite tiles are multi-band with 16/32/64-bit samples,
// so decoding is done against the TIFF structure directly.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"math"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"

	"github.com/rdatools/rda/utils"
)

const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagPlanarConfig     = 284
	tagPredictor        = 317
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagSampleFormat     = 339
	tagModelPixelScale  = 33550
	tagModelTiepoint    = 33922
	tagModelTransform   = 34264
	tagGeoKeyDirectory  = 34735
	tagGeoDoubleParams  = 34736
	tagGeoASCIIParams   = 34737

	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// Image is one decoded multi-band raster.
type Image struct {
	Width, Height int
	RasterType    string
	Bands         []utils.Raster
}

type ifdEntry struct {
	tag      int
	datatype int
	count    int
	raw      []byte
}

type tiffReader struct {
	data []byte
	bo   binary.ByteOrder
	ifd  map[int]ifdEntry
}

var typeSizes = map[int]int{1: 1, 2: 1, 3: 2, 4: 4, 6: 1, 8: 2, 9: 4, 11: 4, 12: 8, 16: 8, 17: 8}

func newTiffReader(data []byte) (*tiffReader, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("truncated TIFF header")
	}
	var bo binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF payload")
	}
	if bo.Uint16(data[2:4]) != 42 {
		return nil, fmt.Errorf("not a classic TIFF payload")
	}

	r := &tiffReader{data: data, bo: bo, ifd: map[int]ifdEntry{}}
	off := int(bo.Uint32(data[4:8]))
	if off+2 > len(data) {
		return nil, fmt.Errorf("IFD offset out of range")
	}
	n := int(bo.Uint16(data[off : off+2]))
	off += 2
	for i := 0; i < n; i++ {
		if off+12 > len(data) {
			return nil, fmt.Errorf("truncated IFD")
		}
		e := ifdEntry{
			tag:      int(bo.Uint16(data[off : off+2])),
			datatype: int(bo.Uint16(data[off+2 : off+4])),
			count:    int(bo.Uint32(data[off+4 : off+8])),
		}
		size := typeSizes[e.datatype] * e.count
		if size <= 4 {
			e.raw = data[off+8 : off+12]
		} else {
			voff := int(bo.Uint32(data[off+8 : off+12]))
			if voff+size > len(data) {
				return nil, fmt.Errorf("IFD value for tag %d out of range", e.tag)
			}
			e.raw = data[voff : voff+size]
		}
		r.ifd[e.tag] = e
		off += 12
	}
	return r, nil
}

func (r *tiffReader) intValues(tag int) ([]int, bool) {
	e, ok := r.ifd[tag]
	if !ok {
		return nil, false
	}
	out := make([]int, e.count)
	for i := 0; i < e.count; i++ {
		switch e.datatype {
		case 1:
			out[i] = int(e.raw[i])
		case 3:
			out[i] = int(r.bo.Uint16(e.raw[2*i : 2*i+2]))
		case 4:
			out[i] = int(r.bo.Uint32(e.raw[4*i : 4*i+4]))
		default:
			return nil, false
		}
	}
	return out, true
}

func (r *tiffReader) intValue(tag, fallback int) int {
	vals, ok := r.intValues(tag)
	if !ok || len(vals) == 0 {
		return fallback
	}
	return vals[0]
}

func (r *tiffReader) doubleValues(tag int) ([]float64, bool) {
	e, ok := r.ifd[tag]
	if !ok || e.datatype != 12 {
		return nil, false
	}
	out := make([]float64, e.count)
	for i := 0; i < e.count; i++ {
		out[i] = math.Float64frombits(r.bo.Uint64(e.raw[8*i : 8*i+8]))
	}
	return out, true
}

// Decode parses a multi-band TIFF payload into per-band rasters.
func Decode(data []byte) (*Image, error) {
	r, err := newTiffReader(data)
	if err != nil {
		return nil, err
	}

	width := r.intValue(tagImageWidth, 0)
	height := r.intValue(tagImageLength, 0)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("TIFF has no image dimensions")
	}
	samples := r.intValue(tagSamplesPerPixel, 1)
	bits := r.intValue(tagBitsPerSample, 8)
	format := r.intValue(tagSampleFormat, sampleFormatUint)
	compression := r.intValue(tagCompression, compressionNone)
	predictor := r.intValue(tagPredictor, 1)
	planar := r.intValue(tagPlanarConfig, 1)

	rType, err := rasterTypeFor(bits, format)
	if err != nil {
		return nil, err
	}
	pixSize := bits / 8

	// raw sample plane, band-interleaved-by-pixel
	raw := make([]byte, width*height*samples*pixSize)

	var offsets, counts []int
	tiled := false
	blockW, blockH := width, height
	if _, ok := r.ifd[tagTileOffsets]; ok {
		tiled = true
		blockW = r.intValue(tagTileWidth, 0)
		blockH = r.intValue(tagTileLength, 0)
		offsets, _ = r.intValues(tagTileOffsets)
		counts, _ = r.intValues(tagTileByteCounts)
	} else {
		blockH = r.intValue(tagRowsPerStrip, height)
		offsets, _ = r.intValues(tagStripOffsets)
		counts, _ = r.intValues(tagStripByteCounts)
	}
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, fmt.Errorf("TIFF has no data blocks")
	}
	if planar != 1 && samples > 1 {
		return nil, fmt.Errorf("planar TIFF layout not supported")
	}

	blocksAcross := 1
	if tiled {
		blocksAcross = (width + blockW - 1) / blockW
	}

	rowSize := width * samples * pixSize
	for i := range offsets {
		block, err := decompressBlock(r.data, offsets[i], counts[i], compression)
		if err != nil {
			return nil, err
		}

		var bx, by, bw, bh int
		if tiled {
			bx = (i % blocksAcross) * blockW
			by = (i / blocksAcross) * blockH
			bw, bh = blockW, blockH
		} else {
			bx = 0
			by = i * blockH
			bw = width
			bh = blockH
			if by+bh > height {
				bh = height - by
			}
		}

		blockRowSize := bw * samples * pixSize
		if predictor == 2 {
			undoHorizontalPredictor(block, bw, samples, pixSize)
		}

		for row := 0; row < bh; row++ {
			y := by + row
			if y >= height {
				break
			}
			copyW := bw
			if bx+copyW > width {
				copyW = width - bx
			}
			src := block[row*blockRowSize:]
			if len(src) < copyW*samples*pixSize {
				return nil, fmt.Errorf("short TIFF block %d", i)
			}
			dst := raw[y*rowSize+bx*samples*pixSize:]
			copy(dst[:copyW*samples*pixSize], src[:copyW*samples*pixSize])
		}
	}

	img := &Image{Width: width, Height: height, RasterType: rType}
	img.Bands = make([]utils.Raster, samples)
	for b := 0; b < samples; b++ {
		band, err := utils.NewRaster(rType, width, height)
		if err != nil {
			return nil, err
		}
		fillBand(band, raw, b, samples, r.bo)
		img.Bands[b] = band
	}
	return img, nil
}

func decompressBlock(data []byte, offset, count, compression int) ([]byte, error) {
	if offset+count > len(data) {
		return nil, fmt.Errorf("TIFF block out of range")
	}
	block := data[offset : offset+count]
	switch compression {
	case compressionNone:
		return block, nil
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(block))
		if err != nil {
			return nil, fmt.Errorf("deflate block error: %v", err)
		}
		defer zr.Close()
		return ioutil.ReadAll(zr)
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(block), lzw.MSB, 8)
		defer lr.Close()
		return ioutil.ReadAll(lr)
	default:
		return nil, fmt.Errorf("TIFF compression %d not supported", compression)
	}
}

func undoHorizontalPredictor(block []byte, width, samples, pixSize int) {
	stride := samples * pixSize
	rowSize := width * stride
	nRows := len(block) / rowSize
	// predictor 2 is defined on the per-byte sample lanes
	for r := 0; r < nRows; r++ {
		row := block[r*rowSize : (r+1)*rowSize]
		for i := stride; i < len(row); i++ {
			row[i] += row[i-stride]
		}
	}
}

func rasterTypeFor(bits, format int) (string, error) {
	switch {
	case bits == 8 && format == sampleFormatUint:
		return "Byte", nil
	case bits == 16 && format == sampleFormatInt:
		return "Int16", nil
	case bits == 16 && format == sampleFormatUint:
		return "UInt16", nil
	case bits == 32 && format == sampleFormatInt:
		return "Int32", nil
	case bits == 32 && format == sampleFormatUint:
		return "UInt32", nil
	case bits == 64 && format == sampleFormatInt:
		return "Int64", nil
	case bits == 64 && format == sampleFormatUint:
		return "UInt64", nil
	case bits == 32 && format == sampleFormatFloat:
		return "Float32", nil
	case bits == 64 && format == sampleFormatFloat:
		return "Float64", nil
	default:
		return "", fmt.Errorf("unsupported sample layout: %d bits, format %d", bits, format)
	}
}

func fillBand(band utils.Raster, raw []byte, bandIdx, samples int, bo binary.ByteOrder) {
	switch t := band.(type) {
	case *utils.ByteRaster:
		for i := range t.Data {
			t.Data[i] = raw[i*samples+bandIdx]
		}
	case *utils.Int16Raster:
		for i := range t.Data {
			t.Data[i] = int16(bo.Uint16(raw[(i*samples+bandIdx)*2:]))
		}
	case *utils.UInt16Raster:
		for i := range t.Data {
			t.Data[i] = bo.Uint16(raw[(i*samples+bandIdx)*2:])
		}
	case *utils.Int32Raster:
		for i := range t.Data {
			t.Data[i] = int32(bo.Uint32(raw[(i*samples+bandIdx)*4:]))
		}
	case *utils.UInt32Raster:
		for i := range t.Data {
			t.Data[i] = bo.Uint32(raw[(i*samples+bandIdx)*4:])
		}
	case *utils.Int64Raster:
		for i := range t.Data {
			t.Data[i] = int64(bo.Uint64(raw[(i*samples+bandIdx)*8:]))
		}
	case *utils.UInt64Raster:
		for i := range t.Data {
			t.Data[i] = bo.Uint64(raw[(i*samples+bandIdx)*8:])
		}
	case *utils.Float32Raster:
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(bo.Uint32(raw[(i*samples+bandIdx)*4:]))
		}
	case *utils.Float64Raster:
		for i := range t.Data {
			t.Data[i] = math.Float64frombits(bo.Uint64(raw[(i*samples+bandIdx)*8:]))
		}
	}
}
