package inference

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/KG-NINJA/YOLOdemo/internal/decoder"
)

// Wire format of a tensor, compatible with:
//
//	message Tensor {
//	  repeated int64 dims = 1;
//	  repeated float data = 2;
//	}
const (
	fieldDims protowire.Number = 1
	fieldData protowire.Number = 2
)

// MarshalTensor encodes t with packed repeated fields.
func MarshalTensor(t decoder.Tensor) []byte {
	var dims []byte
	for _, d := range t.Dims {
		dims = protowire.AppendVarint(dims, uint64(int64(d)))
	}

	b := make([]byte, 0, len(dims)+4*len(t.Data)+16)
	b = protowire.AppendTag(b, fieldDims, protowire.BytesType)
	b = protowire.AppendBytes(b, dims)

	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(t.Data)))
	for _, v := range t.Data {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

// UnmarshalTensor decodes a tensor, accepting packed and unpacked encodings
// and skipping unknown fields.
func UnmarshalTensor(b []byte) (decoder.Tensor, error) {
	var t decoder.Tensor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return decoder.Tensor{}, fmt.Errorf("tensor tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldDims && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return decoder.Tensor{}, fmt.Errorf("tensor dims: %w", protowire.ParseError(n))
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return decoder.Tensor{}, fmt.Errorf("tensor dims: %w", protowire.ParseError(m))
				}
				t.Dims = append(t.Dims, int(int64(v)))
				packed = packed[m:]
			}
			b = b[n:]
		case num == fieldDims && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return decoder.Tensor{}, fmt.Errorf("tensor dims: %w", protowire.ParseError(n))
			}
			t.Dims = append(t.Dims, int(int64(v)))
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return decoder.Tensor{}, fmt.Errorf("tensor data: %w", protowire.ParseError(n))
			}
			if len(packed)%4 != 0 {
				return decoder.Tensor{}, fmt.Errorf("tensor data length %d not a multiple of 4", len(packed))
			}
			if t.Data == nil {
				t.Data = make([]float32, 0, len(packed)/4)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return decoder.Tensor{}, fmt.Errorf("tensor data: %w", protowire.ParseError(m))
				}
				t.Data = append(t.Data, math.Float32frombits(v))
				packed = packed[m:]
			}
			b = b[n:]
		case num == fieldData && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return decoder.Tensor{}, fmt.Errorf("tensor data: %w", protowire.ParseError(n))
			}
			t.Data = append(t.Data, math.Float32frombits(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return decoder.Tensor{}, fmt.Errorf("tensor field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return t, nil
}
