package mask

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire encodings accepted in a Payload.
const (
	EncodingLabel        = "label"        // 1 byte per pixel, label value
	EncodingAlpha        = "alpha"        // 4 bytes per pixel, RGBA
	EncodingProbability  = "probability"  // 4 bytes per pixel, little-endian float32
	EncodingProbability8 = "probability8" // 1 byte per pixel, 0-255
)

// Payload is the JSON form of a mask exchanged with segmentation workers and RPC clients.
// Data is base64 encoded by encoding/json.
type Payload struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Encoding string `json:"encoding"`
	Data     []byte `json:"data"`
}

// Source decodes the payload bytes into the matching Source variant.
func (p *Payload) Source() (Source, error) {
	switch p.Encoding {
	case EncodingLabel:
		labels := make([]int32, len(p.Data))
		for i, v := range p.Data {
			labels[i] = int32(v)
		}
		return RawLabelArray{Labels: labels}, nil
	case EncodingAlpha:
		return AlphaRaster{Pix: p.Data}, nil
	case EncodingProbability:
		if len(p.Data)%4 != 0 {
			return nil, fmt.Errorf("%w: float32 payload length %d is not a multiple of 4", ErrInvalidMaskFormat, len(p.Data))
		}
		values := make([]float32, len(p.Data)/4)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(p.Data[i*4:]))
		}
		return ProbabilityRaster{Values: values}, nil
	case EncodingProbability8:
		return ProbabilityRaster{Bytes: p.Data}, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrInvalidMaskFormat, p.Encoding)
	}
}

// Grid decodes and normalizes the payload in one step.
func (p *Payload) Grid(t Thresholds) (*Grid, error) {
	src, err := p.Source()
	if err != nil {
		return nil, err
	}
	return NormalizeWith(src, p.Width, p.Height, t)
}

// EncodeGrid packs a grid as a label payload (1 = foreground).
func EncodeGrid(g *Grid) Payload {
	data := make([]byte, len(g.Occupied))
	for i, v := range g.Occupied {
		if v {
			data[i] = 1
		}
	}
	return Payload{Width: g.Width, Height: g.Height, Encoding: EncodingLabel, Data: data}
}
