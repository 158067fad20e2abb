package comet

import "log"

// Run does the whole job: read both images, register the second onto
// the first, write the merged pyramid, and fix up its metadata.
func Run(cfg Config, path1, path2, outputPath string) error {
	outputPath = OutputFilename(outputPath)

	mi := NewMergedImage()
	mi.Config = cfg
	defer mi.Close()

	log.Printf("Reading images\n")
	if err := mi.Load(path1, path2); err != nil {
		return err
	}
	if err := mi.Align(); err != nil {
		return err
	}
	if err := mi.WritePyramid(outputPath); err != nil {
		return err
	}
	if err := mi.StitchMetadata(outputPath); err != nil {
		return err
	}

	log.Printf("DONE!\n")
	return nil
}
