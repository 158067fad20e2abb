package ome

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrNoImage           = errors.New("no Image/Pixels in OME-XML")
	ErrNoCycleAnnotation = errors.New("no cycle annotation in OME-XML")
)

// A Document is an OME-XML metadata block, as found in the
// ImageDescription of the first page of an OME-TIFF.
type Document struct {
	Prolog []Node
	Root   *Element
}

func Parse(b []byte) (*Document, error) {
	prolog, root, err := parseTree(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if root.Local() != "OME" {
		return nil, fmt.Errorf("root element is <%s>, not <OME>", root.Name)
	}
	return &Document{Prolog: prolog, Root: root}, nil
}

func (d *Document) Marshal() []byte {
	var b bytes.Buffer
	hasDecl := false
	for _, n := range d.Prolog {
		if pi, ok := n.(ProcInst); ok && pi.Target == "xml" {
			hasDecl = true
		}
	}
	if !hasDecl {
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	}
	for _, n := range d.Prolog {
		n.writeTo(&b)
	}
	d.Root.writeTo(&b)
	return b.Bytes()
}

func (d *Document) String() string { return string(d.Marshal()) }

func (d *Document) Images() []*Element { return d.Root.ChildrenNamed("Image") }

// FirstPixels is the Pixels element of the first Image; this tool only
// ever deals with single-image files.
func (d *Document) FirstPixels() (*Element, error) {
	images := d.Images()
	if len(images) == 0 {
		return nil, ErrNoImage
	}
	pix := images[0].FirstChild("Pixels")
	if pix == nil {
		return nil, ErrNoImage
	}
	return pix, nil
}

func Channels(pixels *Element) []*Element { return pixels.ChildrenNamed("Channel") }
func Planes(pixels *Element) []*Element   { return pixels.ChildrenNamed("Plane") }
func TiffData(pixels *Element) []*Element { return pixels.ChildrenNamed("TiffData") }

func SizeC(pixels *Element) (int, error) {
	v, _ := pixels.Attr("SizeC")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("Pixels SizeC %q: %w", v, err)
	}
	return n, nil
}

func SetSizeC(pixels *Element, n int) { pixels.SetAttr("SizeC", strconv.Itoa(n)) }

// micronsPer maps OME UnitsLength symbols onto microns.
var micronsPer = map[string]float64{
	"":   1,
	"µm": 1,
	"um": 1,
	"nm": 1e-3,
	"mm": 1e3,
	"cm": 1e4,
	"m":  1e6,
}

// PhysicalSizeX is the pixel width of the first image, in microns.
func (d *Document) PhysicalSizeX() (float64, bool) {
	pix, err := d.FirstPixels()
	if err != nil {
		return 0, false
	}
	v, exists := pix.Attr("PhysicalSizeX")
	if !exists {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	unit, _ := pix.Attr("PhysicalSizeXUnit")
	scale, known := micronsPer[unit]
	if !known {
		return 0, false
	}
	return f * scale, true
}

// CycleList returns the element holding the per-channel cycle records
// that the COMET instrument writes: the first element inside the Value
// of the first structured annotation.
func (d *Document) CycleList() (*Element, error) {
	sa := d.Root.FirstChild("StructuredAnnotations")
	if sa == nil {
		return nil, fmt.Errorf("%w: no StructuredAnnotations", ErrNoCycleAnnotation)
	}
	anns := sa.Children()
	if len(anns) == 0 {
		return nil, fmt.Errorf("%w: StructuredAnnotations is empty", ErrNoCycleAnnotation)
	}
	val := anns[0].FirstChild("Value")
	if val == nil {
		return nil, fmt.Errorf("%w: %s has no Value", ErrNoCycleAnnotation, anns[0].Local())
	}
	inner := val.Children()
	if len(inner) == 0 {
		return nil, fmt.Errorf("%w: empty Value", ErrNoCycleAnnotation)
	}
	return inner[0], nil
}

// SetUUID gives the document a new identity; the merged file is a new file.
func (d *Document) SetUUID(u string) { d.Root.SetAttr("UUID", "urn:uuid:"+u) }
