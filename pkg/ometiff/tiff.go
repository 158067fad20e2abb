package ometiff

// Just enough TIFF to read and write OME-TIFF pyramids: classic TIFF
// and BigTIFF headers, IFD chains, SubIFDs, and the handful of tags
// that describe single-sample 8 or 16 bit planes.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	tNewSubfileType   = 254
	tImageWidth       = 256
	tImageLength      = 257
	tBitsPerSample    = 258
	tCompression      = 259
	tPhotometric      = 262
	tImageDescription = 270
	tStripOffsets     = 273
	tSamplesPerPixel  = 277
	tRowsPerStrip     = 278
	tStripByteCounts  = 279
	tXResolution      = 282
	tYResolution      = 283
	tPlanarConfig     = 284
	tResolutionUnit   = 296
	tSoftware         = 305
	tPredictor        = 317
	tTileWidth        = 322
	tTileLength       = 323
	tTileOffsets      = 324
	tTileByteCounts   = 325
	tSubIFDs          = 330
	tSampleFormat     = 339
)

const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtIFD       = 13
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	sampleFormatUint       = 1
	photometricBlackIsZero = 1
	resolutionUnitCM       = 3
)

var ErrUnsupported = errors.New("unsupported TIFF feature")

func typeSize(dt uint16) int {
	switch dt {
	case dtByte, dtASCII, dtSByte, dtUndefined:
		return 1
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat, dtIFD:
		return 4
	case dtRational, dtSRational, dtDouble, dtLong8, dtSLong8, dtIFD8:
		return 8
	}
	return 0
}

// An entry is one tag out of an IFD, with its value bytes already
// fetched (whether they were inline or not).
type entry struct {
	Tag   uint16
	Type  uint16
	Count uint64
	Val   []byte
	Pos   int64 // file offset of the entry itself, so it can be patched in place
}

func (e entry) Uints(order binary.ByteOrder) []uint64 {
	sz := typeSize(e.Type)
	out := make([]uint64, 0, e.Count)
	for i := 0; i < int(e.Count) && (i+1)*sz <= len(e.Val); i++ {
		b := e.Val[i*sz:]
		switch e.Type {
		case dtByte, dtUndefined:
			out = append(out, uint64(b[0]))
		case dtShort:
			out = append(out, uint64(order.Uint16(b)))
		case dtLong, dtIFD:
			out = append(out, uint64(order.Uint32(b)))
		case dtLong8, dtIFD8:
			out = append(out, order.Uint64(b))
		}
	}
	return out
}

func (e entry) String() string {
	b := e.Val
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

// An ifd is a decoded image file directory.
type ifd struct {
	Offset  int64
	Entries map[uint16]entry
	Next    int64
}

func (d *ifd) uint(order binary.ByteOrder, tag uint16, def uint64) uint64 {
	if e, exists := d.Entries[tag]; exists {
		if vals := e.Uints(order); len(vals) > 0 {
			return vals[0]
		}
	}
	return def
}

func (d *ifd) uints(order binary.ByteOrder, tag uint16) []uint64 {
	if e, exists := d.Entries[tag]; exists {
		return e.Uints(order)
	}
	return nil
}

// header describes the flavour of a TIFF file.
type header struct {
	Order    binary.ByteOrder
	BigTIFF  bool
	FirstIFD int64
}

func readHeader(r io.ReaderAt) (header, error) {
	h := header{}
	b := make([]byte, 16)
	if _, err := r.ReadAt(b[:8], 0); err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}

	switch string(b[:2]) {
	case "II":
		h.Order = binary.LittleEndian
	case "MM":
		h.Order = binary.BigEndian
	default:
		return h, fmt.Errorf("not a TIFF file (byte order %q)", b[:2])
	}

	switch version := h.Order.Uint16(b[2:]); version {
	case 42:
		h.FirstIFD = int64(h.Order.Uint32(b[4:]))
	case 43:
		h.BigTIFF = true
		if _, err := r.ReadAt(b[8:16], 8); err != nil {
			return h, fmt.Errorf("read bigtiff header: %w", err)
		}
		if h.Order.Uint16(b[4:]) != 8 {
			return h, fmt.Errorf("%w: bigtiff offset size %d", ErrUnsupported, h.Order.Uint16(b[4:]))
		}
		h.FirstIFD = int64(h.Order.Uint64(b[8:]))
	default:
		return h, fmt.Errorf("not a TIFF file (version %d)", version)
	}

	return h, nil
}

func (h header) entrySize() int  { return map[bool]int{false: 12, true: 20}[h.BigTIFF] }
func (h header) offsetSize() int { return map[bool]int{false: 4, true: 8}[h.BigTIFF] }

func (h header) readOffset(b []byte) int64 {
	if h.BigTIFF {
		return int64(h.Order.Uint64(b))
	}
	return int64(h.Order.Uint32(b))
}

// readIFD decodes the directory at `offset`, fetching every tag value.
func readIFD(r io.ReaderAt, h header, offset int64) (*ifd, error) {
	d := &ifd{Offset: offset, Entries: map[uint16]entry{}}

	countSize := 2
	if h.BigTIFF {
		countSize = 8
	}
	b := make([]byte, countSize)
	if _, err := r.ReadAt(b, offset); err != nil {
		return nil, fmt.Errorf("ifd@%d count: %w", offset, err)
	}
	n := uint64(0)
	if h.BigTIFF {
		n = h.Order.Uint64(b)
	} else {
		n = uint64(h.Order.Uint16(b))
	}
	if n == 0 || n > 4096 {
		return nil, fmt.Errorf("ifd@%d: implausible entry count %d", offset, n)
	}

	esz := h.entrySize()
	table := make([]byte, int(n)*esz+h.offsetSize())
	if _, err := r.ReadAt(table, offset+int64(countSize)); err != nil {
		return nil, fmt.Errorf("ifd@%d entries: %w", offset, err)
	}

	for i := 0; i < int(n); i++ {
		eb := table[i*esz : (i+1)*esz]
		e := entry{
			Tag:  h.Order.Uint16(eb[0:]),
			Type: h.Order.Uint16(eb[2:]),
			Pos:  offset + int64(countSize) + int64(i*esz),
		}
		inline := eb[8:]
		if h.BigTIFF {
			e.Count = h.Order.Uint64(eb[4:])
			inline = eb[12:]
		} else {
			e.Count = uint64(h.Order.Uint32(eb[4:]))
		}

		sz := typeSize(e.Type)
		if sz == 0 {
			continue // unknown types get skipped, as libtiff does
		}
		valLen := uint64(sz) * e.Count
		if valLen > 1<<30 {
			return nil, fmt.Errorf("ifd@%d tag %d: value too large (%d bytes)", offset, e.Tag, valLen)
		}
		if valLen <= uint64(len(inline)) {
			e.Val = append([]byte(nil), inline[:valLen]...)
		} else {
			e.Val = make([]byte, valLen)
			if _, err := r.ReadAt(e.Val, h.readOffset(inline)); err != nil {
				return nil, fmt.Errorf("ifd@%d tag %d value: %w", offset, e.Tag, err)
			}
		}
		d.Entries[e.Tag] = e
	}

	d.Next = h.readOffset(table[int(n)*esz:])
	return d, nil
}

// readIFDChain follows the Next pointers from the first directory.
func readIFDChain(r io.ReaderAt, h header) ([]*ifd, error) {
	dirs := []*ifd{}
	seen := map[int64]bool{}
	for offset := h.FirstIFD; offset != 0; {
		if seen[offset] {
			return nil, fmt.Errorf("ifd chain loops at offset %d", offset)
		}
		seen[offset] = true

		d, err := readIFD(r, h, offset)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
		offset = d.Next
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no image directories")
	}
	return dirs, nil
}
