package comet

import (
	"fmt"
	"image"
	"log"
	"strings"

	"golang.org/x/image/draw"

	"github.com/abworrall/comet-fixer/pkg/emath"
	"github.com/abworrall/comet-fixer/pkg/ome"
	"github.com/abworrall/comet-fixer/pkg/ometiff"
	"github.com/abworrall/comet-fixer/pkg/register"
)

const OMEExtension = ".ome.tiff"

// OutputFilename makes sure the output ends with the OME-TIFF extension.
func OutputFilename(path string) string {
	if !strings.HasSuffix(path, OMEExtension) {
		path += OMEExtension
	}
	return path
}

// MergedImage merges the second of two layers into the first: the
// second is registered onto the first, warped into its frame, and its
// channels written out after the first's.
type MergedImage struct {
	Ref    Layer // the first image, whose frame is kept
	Moving Layer // the second image, warped onto Ref
	Config

	Aligner *register.Aligner
}

func NewMergedImage() MergedImage {
	return MergedImage{Config: NewConfig()}
}

func (mi MergedImage) String() string {
	str := "MergedImage [\n"
	str += fmt.Sprintf("  ref:    %s\n", mi.Ref)
	str += fmt.Sprintf("  moving: %s\n", mi.Moving)
	if mi.Aligner != nil {
		str += fmt.Sprintf("  %s\n", mi.Aligner)
	}
	return str + "]"
}

func (mi *MergedImage) Load(path1, path2 string) error {
	var err error
	if mi.Ref, err = loadLayer(path1); err != nil {
		return err
	}
	if mi.Moving, err = loadLayer(path2); err != nil {
		mi.Ref.Close()
		return err
	}

	for _, l := range []Layer{mi.Ref, mi.Moving} {
		if l.BitsPerSample() != 8 && l.BitsPerSample() != 16 {
			return fmt.Errorf("%s: %d bit samples", l.Filename(), l.BitsPerSample())
		}
	}
	if mi.RefChannel < 0 || mi.RefChannel >= mi.Ref.NumChannels() {
		return fmt.Errorf("%s has no channel %d to register on", mi.Ref.Filename(), mi.RefChannel)
	}
	if mi.MovingChannel < 0 || mi.MovingChannel >= mi.Moving.NumChannels() {
		return fmt.Errorf("%s has no channel %d to register on", mi.Moving.Filename(), mi.MovingChannel)
	}

	if mi.Verbosity > 0 {
		log.Printf("Loaded: %s\n", mi)
	}
	return nil
}

func (mi *MergedImage) Close() {
	if mi.Ref.Reader != nil {
		mi.Ref.Close()
	}
	if mi.Moving.Reader != nil {
		mi.Moving.Close()
	}
}

// Align registers the moving image onto the reference: a coarse affine
// from the thumbnails, then per-block refinement at full resolution.
func (mi *MergedImage) Align() error {
	log.Printf("Coarse alignment\n")

	refThumb, refDown, err := mi.Ref.Thumbnail(mi.ThumbnailSize, mi.RefChannel)
	if err != nil {
		return err
	}
	movingThumb, movingDown, err := mi.Moving.Thumbnail(mi.ThumbnailSize, mi.MovingChannel)
	if err != nil {
		return err
	}

	mi.Aligner = &register.Aligner{
		RefImg:                    plane{mi.Ref.Reader, mi.RefChannel},
		MovingImg:                 plane{mi.Moving.Reader, mi.MovingChannel},
		RefThumbnail:              refThumb,
		MovingThumbnail:           movingThumb,
		RefThumbnailDownFactor:    refDown,
		MovingThumbnailDownFactor: movingDown,
		Config:                    mi.registerConfig(),
	}

	if err := mi.Aligner.CoarseRegisterAffine(mi.NKeypoints); err != nil {
		return err
	}
	if mi.PlotMatches != "" {
		if err := mi.Aligner.PlotMatchResult(mi.PlotMatches); err != nil {
			log.Printf("Plotting matches: %v\n", err)
		}
	}
	if before, after, err := mi.Aligner.Quality(); err == nil {
		log.Printf("Thumbnail correlation %.3f before, %.3f after coarse alignment\n", before, after)
	}

	log.Printf("Fine alignment\n")
	if err := mi.Aligner.ComputeShifts(); err != nil {
		return err
	}
	if mi.ConstrainShifts {
		mi.Aligner.ConstrainShifts()
	}

	if mi.Verbosity > 0 {
		log.Printf("Aligned: %s\n", mi)
	}
	return nil
}

// mosaic is the concatenation of the reference channels and the warped
// moving channels. Warping happens as each channel is asked for.
type mosaic struct {
	mi     *MergedImage
	mxs    []emath.Aff3
	interp draw.Interpolator
}

func (m mosaic) Size() image.Point { return m.mi.Ref.LevelSize(0) }
func (m mosaic) NumChannels() int  { return m.mi.Ref.NumChannels() + m.mi.Moving.NumChannels() }

func (m mosaic) BitsPerSample() int {
	return emath.IntMax(m.mi.Ref.BitsPerSample(), m.mi.Moving.BitsPerSample())
}

func (m mosaic) Channel(c int) (*image.Gray16, error) {
	c1 := m.mi.Ref.NumChannels()
	if c < c1 {
		return m.mi.Ref.ReadLevelChannel(0, c)
	}

	if m.mi.Verbosity > 0 {
		log.Printf("Warping channel %d of %s\n", c-c1, m.mi.Moving.Filename())
	}
	rc := m.mi.Aligner.Config.WithDefaults()
	return register.BlockAffineTransform(m.Size(), plane{m.mi.Moving.Reader, c - c1}, m.mxs,
		rc.BlockSize, m.interp, rc.Workers)
}

// Mosaic sets up the merged channels, ready to be written out.
func (mi *MergedImage) Mosaic() (ometiff.Mosaic, error) {
	if mi.Aligner == nil {
		return nil, fmt.Errorf("the images have not been aligned")
	}
	log.Printf("Performing transformation on all channels\n")

	interp, err := register.Interpolator(mi.Interpolation)
	if err != nil {
		return nil, err
	}
	m := mosaic{mi: mi, mxs: mi.Aligner.BlockAffineMatrices(), interp: interp}

	log.Printf("Concatenating images:\n")
	sz := m.Size()
	log.Printf("(%d, %d, %d)\n", m.NumChannels(), sz.Y, sz.X)
	return m, nil
}

// WritePyramid writes the merged channels as a pyramidal OME-TIFF. The
// description is a bare OME-XML block, until StitchMetadata replaces it.
func (mi *MergedImage) WritePyramid(filename string) error {
	m, err := mi.Mosaic()
	if err != nil {
		return err
	}

	log.Printf("Writing pyramidal OME-TIFF at %s\n", filename)
	sz := m.Size()
	pixelSize := mi.Ref.PixelSize * mi.Ref.LevelDownsamples[0]
	doc := ome.NewPyramidDocument(mi.Ref.Filename(), sz.X, sz.Y, m.NumChannels(), m.BitsPerSample(), pixelSize)

	opts := ometiff.WriteOptions{
		TileSize:        mi.TileSize,
		DownscaleFactor: mi.DownscaleFactor,
		Compression:     mi.Compression,
		BigTIFF:         mi.BigTIFF,
		Workers:         mi.Workers,
		Description:     doc.String(),
		Verbosity:       mi.Verbosity,
	}
	return ometiff.WritePyramid(filename, m, pixelSize, opts)
}
