package utils

import (
	"fmt"
)

// Raster is a single band of pixels in row-major order.
type Raster interface {
	GetNoData() float64
}

type ByteRaster struct {
	NameSpace     string
	Data          []uint8
	Height, Width int
	NoData        float64
}

func (r *ByteRaster) GetNoData() float64 {
	return r.NoData
}

type Int16Raster struct {
	NameSpace     string
	Data          []int16
	Height, Width int
	NoData        float64
}

func (r *Int16Raster) GetNoData() float64 {
	return r.NoData
}

type UInt16Raster struct {
	NameSpace     string
	Data          []uint16
	Height, Width int
	NoData        float64
}

func (r *UInt16Raster) GetNoData() float64 {
	return r.NoData
}

type Int32Raster struct {
	NameSpace     string
	Data          []int32
	Height, Width int
	NoData        float64
}

func (r *Int32Raster) GetNoData() float64 {
	return r.NoData
}

type UInt32Raster struct {
	NameSpace     string
	Data          []uint32
	Height, Width int
	NoData        float64
}

func (r *UInt32Raster) GetNoData() float64 {
	return r.NoData
}

type Int64Raster struct {
	NameSpace     string
	Data          []int64
	Height, Width int
	NoData        float64
}

func (r *Int64Raster) GetNoData() float64 {
	return r.NoData
}

type UInt64Raster struct {
	NameSpace     string
	Data          []uint64
	Height, Width int
	NoData        float64
}

func (r *UInt64Raster) GetNoData() float64 {
	return r.NoData
}

type Float32Raster struct {
	NameSpace     string
	Data          []float32
	Height, Width int
	NoData        float64
}

func (r *Float32Raster) GetNoData() float64 {
	return r.NoData
}

type Float64Raster struct {
	NameSpace     string
	Data          []float64
	Height, Width int
	NoData        float64
}

func (r *Float64Raster) GetNoData() float64 {
	return r.NoData
}

// NewRaster allocates a zero-filled raster of the given type.
func NewRaster(rType string, width, height int) (Raster, error) {
	switch rType {
	case "Byte", "Bool":
		return &ByteRaster{Data: make([]uint8, width*height), Width: width, Height: height}, nil
	case "Int16":
		return &Int16Raster{Data: make([]int16, width*height), Width: width, Height: height}, nil
	case "UInt16":
		return &UInt16Raster{Data: make([]uint16, width*height), Width: width, Height: height}, nil
	case "Int32":
		return &Int32Raster{Data: make([]int32, width*height), Width: width, Height: height}, nil
	case "UInt32":
		return &UInt32Raster{Data: make([]uint32, width*height), Width: width, Height: height}, nil
	case "Int64":
		return &Int64Raster{Data: make([]int64, width*height), Width: width, Height: height}, nil
	case "UInt64":
		return &UInt64Raster{Data: make([]uint64, width*height), Width: width, Height: height}, nil
	case "Float32":
		return &Float32Raster{Data: make([]float32, width*height), Width: width, Height: height}, nil
	case "Float64":
		return &Float64Raster{Data: make([]float64, width*height), Width: width, Height: height}, nil
	default:
		return nil, fmt.Errorf("unsupported raster type %s", rType)
	}
}

// RasterShape returns the width and height of any of the typed rasters.
func RasterShape(r Raster) (int, int, error) {
	switch t := r.(type) {
	case *ByteRaster:
		return t.Width, t.Height, nil
	case *Int16Raster:
		return t.Width, t.Height, nil
	case *UInt16Raster:
		return t.Width, t.Height, nil
	case *Int32Raster:
		return t.Width, t.Height, nil
	case *UInt32Raster:
		return t.Width, t.Height, nil
	case *Int64Raster:
		return t.Width, t.Height, nil
	case *UInt64Raster:
		return t.Width, t.Height, nil
	case *Float32Raster:
		return t.Width, t.Height, nil
	case *Float64Raster:
		return t.Width, t.Height, nil
	default:
		return -1, -1, fmt.Errorf("raster type %T not recognised", r)
	}
}

// RasterType names the platform raster type of a typed raster.
func RasterType(r Raster) (string, error) {
	switch r.(type) {
	case *ByteRaster:
		return "Byte", nil
	case *Int16Raster:
		return "Int16", nil
	case *UInt16Raster:
		return "UInt16", nil
	case *Int32Raster:
		return "Int32", nil
	case *UInt32Raster:
		return "UInt32", nil
	case *Int64Raster:
		return "Int64", nil
	case *UInt64Raster:
		return "UInt64", nil
	case *Float32Raster:
		return "Float32", nil
	case *Float64Raster:
		return "Float64", nil
	default:
		return "", fmt.Errorf("raster type %T not recognised", r)
	}
}

// RasterSample reads pixel (x, y) of any typed raster as float64.
func RasterSample(r Raster, x, y int) (float64, error) {
	switch t := r.(type) {
	case *ByteRaster:
		return float64(t.Data[y*t.Width+x]), nil
	case *Int16Raster:
		return float64(t.Data[y*t.Width+x]), nil
	case *UInt16Raster:
		return float64(t.Data[y*t.Width+x]), nil
	case *Int32Raster:
		return float64(t.Data[y*t.Width+x]), nil
	case *UInt32Raster:
		return float64(t.Data[y*t.Width+x]), nil
	case *Int64Raster:
		return float64(t.Data[y*t.Width+x]), nil
	case *UInt64Raster:
		return float64(t.Data[y*t.Width+x]), nil
	case *Float32Raster:
		return float64(t.Data[y*t.Width+x]), nil
	case *Float64Raster:
		return t.Data[y*t.Width+x], nil
	default:
		return 0, fmt.Errorf("raster type %T not recognised", r)
	}
}
