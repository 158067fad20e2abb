package register

import "runtime"

// Config holds the knobs for both stages of registration.
type Config struct {
	// Side of the square blocks that fine alignment works on, in level 0 pixels
	BlockSize int

	// Blocks whose phase correlation peak stands less than this many
	// standard deviations above the rest of the surface are ignored
	MinPeakRatio float64

	// Matching and RANSAC parameters for the coarse affine
	RatioTest       float64
	RansacIters     int
	RansacTolerance float64 // in thumbnail pixels

	Workers   int
	Verbosity int
}

func NewConfig() Config {
	return Config{
		BlockSize:       1024,
		MinPeakRatio:    8,
		RatioTest:       0.8,
		RansacIters:     2000,
		RansacTolerance: 3,
		Workers:         runtime.NumCPU(),
	}
}

// WithDefaults fills in anything left zero, so a partial Config still works
func (cfg Config) WithDefaults() Config {
	def := NewConfig()
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = def.BlockSize
	}
	if cfg.MinPeakRatio <= 0 {
		cfg.MinPeakRatio = def.MinPeakRatio
	}
	if cfg.RatioTest <= 0 || cfg.RatioTest > 1 {
		cfg.RatioTest = def.RatioTest
	}
	if cfg.RansacIters <= 0 {
		cfg.RansacIters = def.RansacIters
	}
	if cfg.RansacTolerance <= 0 {
		cfg.RansacTolerance = def.RansacTolerance
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return cfg
}
