package utils

import (
	"fmt"
)

// The metadata service reports pixel types with its own vocabulary.
// These map onto the typed rasters in raster.go.
const (
	DTypeByte    = "BYTE"
	DTypeShort   = "SHORT"
	DTypeUShort  = "UNSIGNED_SHORT"
	DTypeInt     = "INTEGER"
	DTypeUInt    = "UNSIGNED_INTEGER"
	DTypeLong    = "LONG"
	DTypeULong   = "UNSIGNED_LONG"
	DTypeFloat   = "FLOAT"
	DTypeDouble  = "DOUBLE"
	DTypeBoolean = "BINARY"
)

// DataTypeToRasterType maps a platform data type string to the
// raster type used throughout the processor package.
func DataTypeToRasterType(dataType string) (string, error) {
	switch dataType {
	case DTypeByte:
		return "Byte", nil
	case DTypeShort:
		return "Int16", nil
	case DTypeUShort:
		return "UInt16", nil
	case DTypeInt:
		return "Int32", nil
	case DTypeUInt:
		return "UInt32", nil
	case DTypeLong:
		return "Int64", nil
	case DTypeULong:
		return "UInt64", nil
	case DTypeFloat:
		return "Float32", nil
	case DTypeDouble:
		return "Float64", nil
	case DTypeBoolean:
		return "Byte", nil
	default:
		return "", fmt.Errorf("unknown data type %s", dataType)
	}
}

// RasterTypeSize returns the per-pixel size in bytes.
func RasterTypeSize(rType string) (int, error) {
	switch rType {
	case "Byte", "Bool":
		return 1, nil
	case "Int16", "UInt16":
		return 2, nil
	case "Int32", "UInt32", "Float32":
		return 4, nil
	case "Int64", "UInt64", "Float64":
		return 8, nil
	default:
		return -1, fmt.Errorf("unsupported raster type %s", rType)
	}
}
