package npy

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType describes one element type.
type DType struct {
	Kind  byte // 'u', 'i' or 'f'
	Size  int  // bytes per element
	Order binary.ByteOrder
}

// Common dtypes.
var (
	Uint8   = DType{Kind: 'u', Size: 1, Order: binary.LittleEndian}
	Float16 = DType{Kind: 'f', Size: 2, Order: binary.LittleEndian}
	Float32 = DType{Kind: 'f', Size: 4, Order: binary.LittleEndian}
	Float64 = DType{Kind: 'f', Size: 8, Order: binary.LittleEndian}
)

// ParseDType parses a NumPy type string such as "<f2", "|u1" or ">i4".
func ParseDType(descr string) (DType, error) {
	if len(descr) < 3 {
		return DType{}, fmt.Errorf("unsupported dtype %q", descr)
	}
	var order binary.ByteOrder
	switch descr[0] {
	case '<', '|', '=':
		order = binary.LittleEndian
	case '>':
		order = binary.BigEndian
	default:
		return DType{}, fmt.Errorf("unsupported dtype %q: byte order %q", descr, descr[0])
	}
	kind := descr[1]
	var size int
	if _, err := fmt.Sscanf(descr[2:], "%d", &size); err != nil {
		return DType{}, fmt.Errorf("unsupported dtype %q: %v", descr, err)
	}
	dt := DType{Kind: kind, Size: size, Order: order}
	if !dt.supported() {
		return DType{}, fmt.Errorf("unsupported dtype %q", descr)
	}
	return dt, nil
}

func (d DType) supported() bool {
	switch d.Kind {
	case 'u', 'i':
		return d.Size == 1 || d.Size == 2 || d.Size == 4 || d.Size == 8
	case 'f':
		return d.Size == 2 || d.Size == 4 || d.Size == 8
	}
	return false
}

// String returns the NumPy type string.
func (d DType) String() string {
	prefix := "<"
	if d.Size == 1 {
		prefix = "|"
	} else if d.Order == binary.BigEndian {
		prefix = ">"
	}
	return fmt.Sprintf("%s%c%d", prefix, d.Kind, d.Size)
}

// decode converts one element at b to float32.
func (d DType) decode(b []byte) float32 {
	switch d.Kind {
	case 'u':
		switch d.Size {
		case 1:
			return float32(b[0])
		case 2:
			return float32(d.Order.Uint16(b))
		case 4:
			return float32(d.Order.Uint32(b))
		default:
			return float32(d.Order.Uint64(b))
		}
	case 'i':
		switch d.Size {
		case 1:
			return float32(int8(b[0]))
		case 2:
			return float32(int16(d.Order.Uint16(b)))
		case 4:
			return float32(int32(d.Order.Uint32(b)))
		default:
			return float32(int64(d.Order.Uint64(b)))
		}
	default:
		switch d.Size {
		case 2:
			return float16.Frombits(d.Order.Uint16(b)).Float32()
		case 4:
			return math.Float32frombits(d.Order.Uint32(b))
		default:
			return float32(math.Float64frombits(d.Order.Uint64(b)))
		}
	}
}

// encode stores v at b. Only floating point dtypes can be written.
func (d DType) encode(b []byte, v float32) {
	switch d.Size {
	case 2:
		d.Order.PutUint16(b, float16.Fromfloat32(v).Bits())
	case 4:
		d.Order.PutUint32(b, math.Float32bits(v))
	default:
		d.Order.PutUint64(b, math.Float64bits(float64(v)))
	}
}

// RoundFloat16 returns v after a round trip through half precision.
func RoundFloat16(v float32) float32 {
	return float16.Fromfloat32(v).Float32()
}
