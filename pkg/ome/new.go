package ome

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const (
	Namespace      = "http://www.openmicroscopy.org/Schemas/OME/2016-06"
	schemaLocation = Namespace + " " + Namespace + "/ome.xsd"
)

// NewPyramidDocument describes a freshly written single image pyramid
// with nothing but its geometry. It is what goes into a file before the
// real metadata has been stitched together.
func NewPyramidDocument(name string, sizeX, sizeY, sizeC, bitsPerSample int, pixelSize float64) *Document {
	root := NewElement("OME",
		Attr{"xmlns", Namespace},
		Attr{"xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance"},
		Attr{"xsi:schemaLocation", schemaLocation},
		Attr{"UUID", "urn:uuid:" + uuid.NewString()},
		Attr{"Creator", "comet-fixer"},
	)

	img := NewElement("Image", Attr{"ID", "Image:0"}, Attr{"Name", name})
	pix := NewElement("Pixels",
		Attr{"BigEndian", "false"},
		Attr{"DimensionOrder", "XYCZT"},
		Attr{"ID", "Pixels:0"},
		Attr{"Interleaved", "false"},
		Attr{"SizeC", strconv.Itoa(sizeC)},
		Attr{"SizeT", "1"},
		Attr{"SizeX", strconv.Itoa(sizeX)},
		Attr{"SizeY", strconv.Itoa(sizeY)},
		Attr{"SizeZ", "1"},
		Attr{"Type", fmt.Sprintf("uint%d", bitsPerSample)},
	)
	if pixelSize > 0 {
		ps := strconv.FormatFloat(pixelSize, 'g', -1, 64)
		pix.SetAttr("PhysicalSizeX", ps)
		pix.SetAttr("PhysicalSizeY", ps)
	}

	for c := 0; c < sizeC; c++ {
		pix.AppendChild(NewElement("Channel",
			Attr{"ID", fmt.Sprintf("Channel:0:%d", c)},
			Attr{"SamplesPerPixel", "1"},
		))
	}
	RenumberTiffData(pix, sizeC)

	img.AppendChild(pix)
	root.AppendChild(img)

	return &Document{
		Prolog: []Node{ProcInst{Target: "xml", Inst: `version="1.0" encoding="UTF-8"`}},
		Root:   root,
	}
}
