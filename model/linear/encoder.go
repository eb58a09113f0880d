// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package linear

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"

	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/core"
	"github.com/poiesic/imgembed/model"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxInputBytes rejects larger encoded images.
const DefaultMaxInputBytes = 50 * 1024 * 1024

// Encoder is a loaded linear image encoder.
type Encoder struct {
	cfg           Config
	weight        []float32
	bias          []float32
	maxInputBytes int64
}

var _ model.Model = (*Encoder)(nil)

func (e *Encoder) Dimension() int {
	return e.cfg.ProjectionDim
}

// MemoryFor counts the weights plus one input and one output buffer per image.
func (e *Encoder) MemoryFor(n int) int64 {
	weights := int64(len(e.weight)+len(e.bias)) * bytesPerF32
	perInput := int64(e.cfg.InputSize()+e.cfg.ProjectionDim) * bytesPerF32
	return weights + int64(n)*perInput
}

// EmbedBatch preprocesses every input and projects it.
// The first undecodable input fails the batch with core.ErrMalformedInput.
func (e *Encoder) EmbedBatch(ctx context.Context, inputs []core.Input) ([][]float32, error) {
	in := e.cfg.InputSize()
	dim := e.cfg.ProjectionDim
	vectors := make([][]float32, len(inputs))

	for i, input := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pixels, err := e.preprocess(input)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrMalformedInput, input.Label(), err)
		}

		out := make([]float32, dim)
		for j := 0; j < dim; j++ {
			row := e.weight[j*in : (j+1)*in]
			var sum float32
			for k, x := range pixels {
				sum += row[k] * x
			}
			if e.bias != nil {
				sum += e.bias[j]
			}
			out[j] = sum
		}
		vectors[i] = model.NormalizeVector(out)
	}
	return vectors, nil
}

func (e *Encoder) Close() error {
	e.weight = nil
	e.bias = nil
	return nil
}

// preprocess decodes, resizes and normalizes one image into CHW order.
func (e *Encoder) preprocess(input core.Input) ([]float32, error) {
	rc, err := input.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, e.maxInputBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > e.maxInputBytes {
		return nil, fmt.Errorf("larger than %d bytes", e.maxInputBytes)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("empty image")
	}

	size := e.cfg.ImageSize
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	plane := size * size
	pixels := make([]float32, e.cfg.InputSize())
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := dst.RGBAAt(x, y)
			p := y*size + x
			if e.cfg.Channels == 1 {
				g := color.GrayModel.Convert(c).(color.Gray)
				pixels[p] = e.normalize(0, g.Y)
				continue
			}
			pixels[p] = e.normalize(0, c.R)
			pixels[plane+p] = e.normalize(1, c.G)
			pixels[2*plane+p] = e.normalize(2, c.B)
		}
	}
	return pixels, nil
}

func (e *Encoder) normalize(channel int, v uint8) float32 {
	return (float32(v)/255 - e.cfg.ImageMean[channel]) / e.cfg.ImageStd[channel]
}

// Loader loads linear encoders from cache entries.
type Loader struct {
	maxInputBytes int64
	logger        *slog.Logger
}

var _ model.Loader = (*Loader)(nil)

// LoaderOption is a functional option for configuring a Loader.
type LoaderOption func(*Loader)

// WithMaxInputBytes bounds the encoded size of a single input.
func WithMaxInputBytes(n int64) LoaderOption {
	return func(l *Loader) {
		l.maxInputBytes = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		maxInputBytes: DefaultMaxInputBytes,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "linear-loader")
	return l
}

func (l *Loader) RequiredFiles() []string {
	return []string{ConfigFile, WeightsFile}
}

// Load reads config.json and the projection tensors.
// Any problem with the files is reported as core.ErrModelLoad.
func (l *Loader) Load(ctx context.Context, entry *cache.Entry) (model.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfgData, err := os.ReadFile(entry.Path(ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrModelLoad, ConfigFile, err)
	}
	cfg, err := parseConfig(cfgData)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrModelLoad, ConfigFile, err)
	}

	sf, err := OpenSafetensors(entry.Path(WeightsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrModelLoad, WeightsFile, err)
	}
	defer sf.Close()

	weight, shape, err := sf.Float32(WeightTensor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrModelLoad, err)
	}
	if len(shape) != 2 || shape[0] != cfg.ProjectionDim || shape[1] != cfg.InputSize() {
		return nil, fmt.Errorf("%w: %s shape %v, want [%d %d]",
			core.ErrModelLoad, WeightTensor, shape, cfg.ProjectionDim, cfg.InputSize())
	}

	var bias []float32
	if _, err := sf.Shape(BiasTensor); err == nil {
		bias, shape, err = sf.Float32(BiasTensor)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrModelLoad, err)
		}
		if len(shape) != 1 || shape[0] != cfg.ProjectionDim {
			return nil, fmt.Errorf("%w: %s shape %v, want [%d]", core.ErrModelLoad, BiasTensor, shape, cfg.ProjectionDim)
		}
	}

	l.logger.Debug("loaded encoder", "model", entry.ID.String(), "dim", cfg.ProjectionDim,
		"image_size", cfg.ImageSize, "bias", bias != nil)
	return &Encoder{
		cfg:           cfg,
		weight:        weight,
		bias:          bias,
		maxInputBytes: l.maxInputBytes,
	}, nil
}
