package linear

import (
	"encoding/json"
	"fmt"
)

// File names inside a model directory.
const (
	ConfigFile  = "config.json"
	WeightsFile = "model.safetensors"

	// ModelType identifies configs written for this encoder.
	ModelType = "linear-image-encoder"

	maxImageSize = 1024
)

// Tensor names.
const (
	WeightTensor = "projection.weight"
	BiasTensor   = "projection.bias"
)

// Config is the encoder configuration stored in config.json.
type Config struct {
	ModelType     string    `json:"model_type"`
	ImageSize     int       `json:"image_size"`
	Channels      int       `json:"num_channels"`
	ProjectionDim int       `json:"projection_dim"`
	ImageMean     []float32 `json:"image_mean"`
	ImageStd      []float32 `json:"image_std"`
}

// InputSize returns the flattened pixel count fed to the projection.
func (c Config) InputSize() int {
	return c.ImageSize * c.ImageSize * c.Channels
}

func parseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Channels == 0 {
		cfg.Channels = 3
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ModelType != ModelType {
		return fmt.Errorf("%w: model_type %q, want %q", ErrInvalidConfig, c.ModelType, ModelType)
	}
	if c.ImageSize < 1 || c.ImageSize > maxImageSize {
		return fmt.Errorf("%w: image_size %d out of range", ErrInvalidConfig, c.ImageSize)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("%w: num_channels must be 1 or 3, got %d", ErrInvalidConfig, c.Channels)
	}
	if c.ProjectionDim < 1 {
		return fmt.Errorf("%w: projection_dim must be positive", ErrInvalidConfig)
	}
	if len(c.ImageMean) != c.Channels || len(c.ImageStd) != c.Channels {
		return fmt.Errorf("%w: image_mean and image_std need %d values", ErrInvalidConfig, c.Channels)
	}
	for _, s := range c.ImageStd {
		if s <= 0 {
			return fmt.Errorf("%w: image_std values must be positive", ErrInvalidConfig)
		}
	}
	return nil
}
