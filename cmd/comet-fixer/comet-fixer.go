package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/abworrall/comet-fixer/pkg/comet"
)

var errUsage = errors.New("need exactly three arguments: first_image second_image output_path")

type flags struct {
	fs *flag.FlagSet

	fVerbosity     int
	fConfigFile    string
	fKeypoints     int
	fThumbnailSize int
	fBlockSize     int
	fTileSize      int
	fCompression   string
	fInterpolation string
	fPlotMatches   string
	fNoConstrain   bool
	fBigTIFF       string
	fWorkers       int
}

func newFlags(output io.Writer) *flags {
	f := &flags{fs: flag.NewFlagSet("comet-fixer", flag.ContinueOnError)}
	fs := f.fs
	fs.SetOutput(output)

	fs.IntVar(&f.fVerbosity, "v", 0, "how verbose to get")
	fs.StringVar(&f.fConfigFile, "config", "", "YAML config file; flags override it")

	fs.IntVar(&f.fKeypoints, "keypoints", 4000, "max corner features per thumbnail for coarse alignment")
	fs.IntVar(&f.fThumbnailSize, "thumbnail", 1000, "coarse alignment uses the pyramid level closest to this many pixels across")
	fs.IntVar(&f.fBlockSize, "blocksize", 1024, "block size (pixels) for fine alignment and warping")
	fs.StringVar(&f.fInterpolation, "interpolation", "bilinear", "nearest, bilinear or catmullrom")
	fs.StringVar(&f.fPlotMatches, "plotmatches", "", "write a PNG of the coarse feature matches here")
	fs.BoolVar(&f.fNoConstrain, "noconstrain", false, "keep every block shift, even implausible ones")

	fs.IntVar(&f.fTileSize, "tilesize", 1024, "output tile size")
	fs.StringVar(&f.fCompression, "compression", "none", "output compression: none or deflate")
	fs.StringVar(&f.fBigTIFF, "bigtiff", "auto", "write BigTIFF: auto, always or never")
	fs.IntVar(&f.fWorkers, "workers", 0, "goroutines for the heavy lifting (0 means one per CPU)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: comet-fixer [flags] first_image second_image output_path\n")
		fs.PrintDefaults()
	}
	return f
}

// parseArgs returns the config and the three paths. The config starts
// from the config file (or the defaults), and then takes any flags that
// were set explicitly on the command line.
func parseArgs(args []string, output io.Writer) (comet.Config, []string, error) {
	f := newFlags(output)
	if err := f.fs.Parse(args); err != nil {
		return comet.Config{}, nil, err
	}
	if f.fs.NArg() != 3 {
		f.fs.Usage()
		return comet.Config{}, nil, errUsage
	}

	cfg := comet.NewConfig()
	if f.fConfigFile != "" {
		var err error
		if cfg, err = comet.LoadConfig(f.fConfigFile); err != nil {
			return comet.Config{}, nil, err
		}
	}

	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "v":
			cfg.Verbosity = f.fVerbosity
		case "keypoints":
			cfg.NKeypoints = f.fKeypoints
		case "thumbnail":
			cfg.ThumbnailSize = f.fThumbnailSize
		case "blocksize":
			cfg.Register.BlockSize = f.fBlockSize
		case "interpolation":
			cfg.Interpolation = f.fInterpolation
		case "plotmatches":
			cfg.PlotMatches = f.fPlotMatches
		case "noconstrain":
			cfg.ConstrainShifts = !f.fNoConstrain
		case "tilesize":
			cfg.TileSize = f.fTileSize
		case "compression":
			cfg.Compression = f.fCompression
		case "bigtiff":
			cfg.BigTIFF = f.fBigTIFF
		case "workers":
			cfg.Workers = f.fWorkers
		}
	})
	return cfg, f.fs.Args(), nil
}

func main() {
	cfg, paths, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	} else if errors.Is(err, errUsage) {
		os.Exit(2)
	} else if err != nil {
		log.Fatal(err)
	}

	log.Printf("comet-fixer starting\n")
	if cfg.Verbosity > 0 {
		log.Printf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}

	if err := comet.Run(cfg, paths[0], paths[1], paths[2]); err != nil {
		log.Fatal(err)
	}
}
