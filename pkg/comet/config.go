package comet

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/comet-fixer/pkg/register"
)

type Config struct {
	Verbosity int

	// Coarse alignment
	NKeypoints    int    // corner features per thumbnail
	ThumbnailSize int    // pick the pyramid level closest to this many pixels across
	RefChannel    int    // channel of the first image to register on
	MovingChannel int    // channel of the second image to register on
	PlotMatches   string // if set, a PNG of the feature matches is written here

	// Fine alignment and warping
	ConstrainShifts bool
	Interpolation   string
	Register        register.Config

	// Output pyramid
	TileSize        int
	DownscaleFactor int
	Compression     string
	BigTIFF         string
	Workers         int
}

func NewConfig() Config {
	return Config{
		NKeypoints:      4000,
		ThumbnailSize:   1000,
		ConstrainShifts: true,
		Interpolation:   "bilinear",
		Register:        register.NewConfig(),
		TileSize:        1024,
		DownscaleFactor: 4,
		Compression:     "none",
		BigTIFF:         "auto",
	}
}

func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

// LoadConfig reads a YAML file; anything it doesn't mention keeps its default.
func LoadConfig(filename string) (Config, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("config read %s: %w", filename, err)
	}
	c, err := newConfigFromYaml(contents)
	if err != nil {
		return Config{}, fmt.Errorf("config parse %s: %w", filename, err)
	}
	return c, nil
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		log.Printf("Can't marshal config yaml: %v\n", err)
		return ""
	}
	return string(b)
}

// registerConfig is the registration config, with the top level
// settings that apply to everything copied in.
func (c Config) registerConfig() register.Config {
	rc := c.Register
	rc.Verbosity = c.Verbosity
	if c.Workers > 0 {
		rc.Workers = c.Workers
	}
	return rc
}
