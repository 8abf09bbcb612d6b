package inference

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrNoInitializer is returned when an ONNX graph carries no initializers
var ErrNoInitializer = errors.New("model has no graph initializers")

// ONNX protobuf field numbers
const (
	modelGraphField         = 7
	graphInitializerField   = 5
	tensorDimsField         = 1
	tensorDataTypeField     = 2
	tensorFloatDataField    = 4
	tensorInt32DataField    = 5
	tensorNameField         = 8
	tensorRawDataField      = 9
	tensorDataTypeFloat     = 1
	tensorDataTypeFloat16   = 10
	tensorDataTypeUndefined = 0
)

// Matrix is a dense row-major 2-D float32 matrix
type Matrix struct {
	Name string
	Rows int
	Cols int
	Data []float32
}

// MulVec returns v @ m (v has Rows entries, the result has Cols)
func (m Matrix) MulVec(v []float32) ([]float32, error) {
	if len(v) != m.Rows {
		return nil, fmt.Errorf("vector length %d does not match %dx%d matrix", len(v), m.Rows, m.Cols)
	}
	out := make([]float32, m.Cols)
	for r, x := range v {
		if x == 0 {
			continue
		}
		row := m.Data[r*m.Cols : (r+1)*m.Cols]
		for c, w := range row {
			out[c] += x * w
		}
	}
	return out, nil
}

// LoadInitializer reads the last graph initializer of the ONNX file at path
// as a 2-D float matrix. FLOAT16 initializers are widened to float32.
func LoadInitializer(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Matrix{}, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	m, err := ParseInitializer(data)
	if err != nil {
		return Matrix{}, fmt.Errorf("failed to parse initializer of %s: %w", path, err)
	}
	return m, nil
}

// ParseInitializer extracts the last graph initializer from serialized ONNX
// model bytes.
func ParseInitializer(model []byte) (Matrix, error) {
	var last []byte
	err := eachField(model, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != modelGraphField || typ != protowire.BytesType {
			return nil
		}
		return eachField(value, func(num protowire.Number, typ protowire.Type, value []byte) error {
			if num == graphInitializerField && typ == protowire.BytesType {
				last = value
			}
			return nil
		})
	})
	if err != nil {
		return Matrix{}, err
	}
	if last == nil {
		return Matrix{}, ErrNoInitializer
	}
	return parseTensor(last)
}

func parseTensor(b []byte) (Matrix, error) {
	var (
		name     string
		dims     []int64
		dataType uint64 = tensorDataTypeUndefined
		floats   []float32
		halves   []uint64
		raw      []byte
	)

	err := eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case tensorDimsField:
			vs, err := varints(typ, value)
			if err != nil {
				return err
			}
			for _, v := range vs {
				dims = append(dims, int64(v))
			}
		case tensorDataTypeField:
			vs, err := varints(typ, value)
			if err != nil {
				return err
			}
			if len(vs) > 0 {
				dataType = vs[len(vs)-1]
			}
		case tensorFloatDataField:
			fs, err := fixed32s(typ, value)
			if err != nil {
				return err
			}
			floats = append(floats, fs...)
		case tensorInt32DataField:
			vs, err := varints(typ, value)
			if err != nil {
				return err
			}
			halves = append(halves, vs...)
		case tensorNameField:
			name = string(value)
		case tensorRawDataField:
			raw = value
		}
		return nil
	})
	if err != nil {
		return Matrix{}, err
	}

	if len(dims) != 2 {
		return Matrix{}, fmt.Errorf("initializer %q has %d dims, want 2", name, len(dims))
	}

	switch dataType {
	case tensorDataTypeFloat:
		if raw != nil {
			if len(raw)%4 != 0 {
				return Matrix{}, fmt.Errorf("initializer %q raw data length %d is not a multiple of 4", name, len(raw))
			}
			floats = make([]float32, len(raw)/4)
			for i := range floats {
				floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			}
		}
	case tensorDataTypeFloat16:
		// Half values live in raw_data, or one per int32_data entry
		if raw != nil {
			if len(raw)%2 != 0 {
				return Matrix{}, fmt.Errorf("initializer %q raw data length %d is not a multiple of 2", name, len(raw))
			}
			floats = make([]float32, len(raw)/2)
			for i := range floats {
				floats[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
			}
		} else {
			floats = make([]float32, len(halves))
			for i, h := range halves {
				floats[i] = float16.Frombits(uint16(h)).Float32()
			}
		}
	default:
		return Matrix{}, fmt.Errorf("initializer %q has data type %d, want float or float16", name, dataType)
	}

	rows, cols := int(dims[0]), int(dims[1])
	if rows*cols != len(floats) {
		return Matrix{}, fmt.Errorf("initializer %q holds %d values, want %dx%d", name, len(floats), rows, cols)
	}
	return Matrix{Name: name, Rows: rows, Cols: cols, Data: floats}, nil
}

// eachField walks the top-level fields of a message. value is the raw
// payload: the bytes of length-delimited fields, the encoded varint/fixed
// value otherwise.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var value []byte
		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			value, n = v, m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			value = b[:n]
		}
		if err := fn(num, typ, value); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// varints decodes a packed or unpacked repeated varint field
func varints(typ protowire.Type, value []byte) ([]uint64, error) {
	var out []uint64
	switch typ {
	case protowire.VarintType, protowire.BytesType:
		for len(value) > 0 {
			v, n := protowire.ConsumeVarint(value)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			out = append(out, v)
			value = value[n:]
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected wire type %d for varint field", typ)
}

// fixed32s decodes a packed or unpacked repeated float field
func fixed32s(typ protowire.Type, value []byte) ([]float32, error) {
	switch typ {
	case protowire.Fixed32Type, protowire.BytesType:
		if len(value)%4 != 0 {
			return nil, fmt.Errorf("float field length %d is not a multiple of 4", len(value))
		}
		out := make([]float32, len(value)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(value[i*4:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected wire type %d for float field", typ)
}
