package ome

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Elements that must come after the Channels inside Pixels
var afterChannels = []string{"BinData", "TiffData", "MetadataOnly", "Plane"}

// StitchChannels moves the channels and planes of src onto the end of
// dst. The first c2 channels of src are renumbered to follow the c1
// channels already in dst, and SizeC becomes c1+c2. src is consumed.
func StitchChannels(dst, src *Document, c1, c2 int) error {
	dstPix, err := dst.FirstPixels()
	if err != nil {
		return fmt.Errorf("first image: %w", err)
	}
	srcPix, err := src.FirstPixels()
	if err != nil {
		return fmt.Errorf("second image: %w", err)
	}

	channels := Channels(srcPix)
	if len(channels) < c2 {
		return fmt.Errorf("second image describes %d channels, but has %d", len(channels), c2)
	}
	for c := 0; c < c2; c++ {
		channels[c].SetAttr("ID", fmt.Sprintf("Channel:%d", c+c1))
	}

	// Planes start from the end of the first image. A plane without a
	// TheC is channel 0 as far as OME is concerned, so its index stands in.
	planes := Planes(srcPix)
	for i, p := range planes {
		theC := i
		if v, exists := p.Attr("TheC"); exists {
			if theC, err = strconv.Atoi(v); err != nil {
				return fmt.Errorf("second image plane %d TheC %q: %w", i, v, err)
			}
		}
		p.SetAttr("TheC", strconv.Itoa(theC+c1))
	}

	srcPix.RemoveChildren("Channel")
	srcPix.RemoveChildren("Plane")
	dstPix.InsertAfterLast("Channel", afterChannels, channels...)
	dstPix.InsertAfterLast("Plane", nil, planes...)
	SetSizeC(dstPix, c1+c2)

	return nil
}

// StitchCycles appends the cycle records of src to those of dst. The
// cycle IDs of src are shifted to follow on from the last cycle of
// dst, plus one, and the channel IDs to follow on from the last
// channel of dst.
func StitchCycles(dst, src *Document) error {
	dstList, err := dst.CycleList()
	if err != nil {
		return fmt.Errorf("first image: %w", err)
	}
	srcList, err := src.CycleList()
	if err != nil {
		return fmt.Errorf("second image: %w", err)
	}

	dstRecords := dstList.Children()
	if len(dstRecords) == 0 {
		return fmt.Errorf("first image: %w: no records", ErrNoCycleAnnotation)
	}
	last := dstRecords[len(dstRecords)-1]

	lastCycle, err := intAttr(last, "CycleID")
	if err != nil {
		return fmt.Errorf("first image last record: %w", err)
	}
	lastChannel, err := channelNumber(last)
	if err != nil {
		return fmt.Errorf("first image last record: %w", err)
	}
	cycleID := lastCycle + 1
	channel := lastChannel + 1

	records := srcList.Children()
	for i, rec := range records {
		cyc, err := intAttr(rec, "CycleID")
		if err != nil {
			return fmt.Errorf("second image record %d: %w", i, err)
		}
		ch, err := channelNumber(rec)
		if err != nil {
			return fmt.Errorf("second image record %d: %w", i, err)
		}
		rec.SetAttr("CycleID", strconv.Itoa(cyc+cycleID))
		rec.SetAttr("ID", "Channel:"+strconv.Itoa(ch+channel))
	}

	srcList.Content = nil
	dstList.AppendChild(records...)
	return nil
}

func intAttr(e *Element, name string) (int, error) {
	v, exists := e.Attr(name)
	if !exists {
		return 0, fmt.Errorf("%s has no %s", e, name)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", e, name, err)
	}
	return n, nil
}

// channelNumber is the integer after the last ':' of an ID like "Channel:0:12"
func channelNumber(e *Element) (int, error) {
	v, exists := e.Attr("ID")
	if !exists {
		return 0, fmt.Errorf("%s has no ID", e)
	}
	parts := strings.Split(v, ":")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("%s ID: %w", e, err)
	}
	return n, nil
}

// RenumberTiffData replaces the TiffData blocks with one per channel,
// one page each, matching how the pyramid writer lays pages out.
func RenumberTiffData(pixels *Element, nChannels int) {
	pixels.RemoveChildren("TiffData")
	blocks := make([]*Element, nChannels)
	for c := 0; c < nChannels; c++ {
		blocks[c] = NewElement(pixels.Sibling("TiffData"),
			Attr{"FirstC", strconv.Itoa(c)},
			Attr{"FirstT", "0"},
			Attr{"FirstZ", "0"},
			Attr{"IFD", strconv.Itoa(c)},
			Attr{"PlaneCount", "1"},
		)
	}
	pixels.InsertAfterLast("Channel", []string{"Plane"}, blocks...)
}

// FitPixels makes the Pixels of the stitched document describe the
// pages that were actually written: one page per channel, and no
// inline pixel data.
func FitPixels(doc *Document, nChannels int) error {
	pix, err := doc.FirstPixels()
	if err != nil {
		return err
	}
	RenumberTiffData(pix, nChannels)
	pix.RemoveChildren("BinData")
	pix.RemoveChildren("MetadataOnly")
	doc.SetUUID(uuid.NewString())
	return nil
}

// Stitch merges the metadata of src (c2 channels) into dst (c1
// channels). The channel and TiffData changes always happen; a missing
// cycle annotation is reported as a wrapped ErrNoCycleAnnotation after
// everything else is done, so callers can choose to carry on. With
// verbosity > 0 the renumbered planes and cycle records are logged.
func Stitch(dst, src *Document, c1, c2, verbosity int) error {
	log.Printf("Channel metadata\n")
	if err := StitchChannels(dst, src, c1, c2); err != nil {
		return fmt.Errorf("channel metadata: %w", err)
	}
	if err := FitPixels(dst, c1+c2); err != nil {
		return err
	}
	if verbosity > 0 {
		pix, _ := dst.FirstPixels()
		for _, p := range Planes(pix) {
			log.Printf("  %s\n", p)
		}
	}

	log.Printf("Cycle metadata\n")
	if err := StitchCycles(dst, src); err != nil {
		return fmt.Errorf("cycle metadata: %w", err)
	}
	if verbosity > 0 {
		list, _ := dst.CycleList()
		for _, rec := range list.Children() {
			log.Printf("  %s\n", rec)
		}
	}
	return nil
}
