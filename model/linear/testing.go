package linear

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
)

// BuildFiles returns config.json and model.safetensors for a random encoder
// with the given output dimension and image size. The same seed always yields
// the same files. Intended for tests and hub fixtures.
func BuildFiles(dim, imageSize int, seed uint64) map[string][]byte {
	cfg := Config{
		ModelType:     ModelType,
		ImageSize:     imageSize,
		Channels:      3,
		ProjectionDim: dim,
		ImageMean:     []float32{0.48145466, 0.4578275, 0.40821073},
		ImageStd:      []float32{0.26862954, 0.26130258, 0.27577711},
	}
	cfgJSON, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		panic(err)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	weight := make([]float32, dim*cfg.InputSize())
	for i := range weight {
		weight[i] = float32(rng.NormFloat64()) * 0.05
	}
	bias := make([]float32, dim)
	for i := range bias {
		bias[i] = float32(rng.NormFloat64()) * 0.01
	}

	var buf bytes.Buffer
	err = WriteSafetensors(&buf, map[string]string{"format": "pt"},
		Tensor{Name: WeightTensor, Shape: []int{dim, cfg.InputSize()}, Data: weight},
		Tensor{Name: BiasTensor, Shape: []int{dim}, Data: bias},
	)
	if err != nil {
		panic(err)
	}

	return map[string][]byte{
		ConfigFile:  cfgJSON,
		WeightsFile: buf.Bytes(),
	}
}

// EncodePNG returns a w x h PNG with a diagonal gradient tinted by c.
func EncodePNG(w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			shade := uint8((x + y) * 255 / max(w+h-2, 1))
			img.SetRGBA(x, y, color.RGBA{
				R: c.R/2 + shade/2,
				G: c.G/2 + shade/4,
				B: c.B/2 + shade/3,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
