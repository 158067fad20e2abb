package comet

import (
	"errors"
	"fmt"
	"log"

	"github.com/abworrall/comet-fixer/pkg/ome"
	"github.com/abworrall/comet-fixer/pkg/ometiff"
)

// StitchMetadata builds the OME-XML for the merged file out of the
// metadata of both inputs, and writes it into the file's description.
// The first image's metadata is the base; the second's channels,
// planes and cycles are renumbered to follow on from it.
func (mi *MergedImage) StitchMetadata(filename string) error {
	log.Printf("Collecting metadata.\n")
	doc1, err := ome.Parse([]byte(mi.Ref.OMEXML()))
	if err != nil {
		return fmt.Errorf("%s OME-XML: %w", mi.Ref.Filename(), err)
	}
	doc2, err := ome.Parse([]byte(mi.Moving.OMEXML()))
	if err != nil {
		return fmt.Errorf("%s OME-XML: %w", mi.Moving.Filename(), err)
	}

	c1, c2 := mi.Ref.NumChannels(), mi.Moving.NumChannels()
	if err := ome.Stitch(doc1, doc2, c1, c2, mi.Verbosity); errors.Is(err, ome.ErrNoCycleAnnotation) {
		log.Printf("Skipping cycle metadata: %v\n", err)
	} else if err != nil {
		return err
	}

	pix, err := doc1.FirstPixels()
	if err != nil {
		return err
	}
	pix.SetAttr("Type", fmt.Sprintf("uint%d", mosaic{mi: mi}.BitsPerSample()))

	log.Printf("Writing metadata.\n")
	doc1.FoldToASCII()
	xml := doc1.String()
	if mi.Verbosity > 1 {
		log.Printf("OME-XML:\n%s\n", xml)
	}
	return ometiff.SetDescription(filename, xml)
}
