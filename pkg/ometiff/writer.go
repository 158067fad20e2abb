package ometiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"os"
	"sort"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/sync/errgroup"
)

// A Mosaic is a stack of same-sized channels to be written out as a
// pyramid. Channels are asked for one at a time, in order, so an
// implementation can compute them lazily.
type Mosaic interface {
	Size() image.Point
	NumChannels() int
	BitsPerSample() int
	Channel(c int) (*image.Gray16, error)
}

type WriteOptions struct {
	TileSize        int
	DownscaleFactor int
	Compression     string // "none" or "deflate"
	BigTIFF         string // "auto", "always" or "never"
	Workers         int
	Software        string
	Description     string // written on the first page; usually OME-XML
	Verbosity       int
}

func (o WriteOptions) compressionTag() (int, error) {
	switch o.Compression {
	case "", "none":
		return compressionNone, nil
	case "deflate", "zlib":
		return compressionDeflate, nil
	}
	return 0, fmt.Errorf("%w: compression '%s'", ErrUnsupported, o.Compression)
}

func (o *WriteOptions) setDefaults() {
	if o.TileSize <= 0 {
		o.TileSize = 1024
	}
	if o.TileSize%16 != 0 {
		o.TileSize += 16 - o.TileSize%16 // TIFF wants tile sizes in multiples of 16
	}
	if o.DownscaleFactor < 2 {
		o.DownscaleFactor = 2
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Software == "" {
		o.Software = "comet-fixer"
	}
}

// ErrTooLarge is returned when a classic TIFF would need offsets past 4GiB.
var ErrTooLarge = errors.New("file too large for classic TIFF, use BigTIFF")

// classicLimit is the furthest offset a classic TIFF can point at.
var classicLimit int64 = math.MaxUint32

// bigTIFFThreshold leaves some headroom under 4GiB for IFDs and metadata.
const bigTIFFThreshold = int64(1<<32) - int64(64<<20)

func (o WriteOptions) useBigTIFF(m Mosaic) (bool, error) {
	switch o.BigTIFF {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "", "auto":
		sz := m.Size()
		payload := int64(sz.X) * int64(sz.Y) * int64(m.NumChannels()) * int64(m.BitsPerSample()/8)
		payload += payload / 2 // the reduced levels
		return payload > bigTIFFThreshold, nil
	}
	return false, fmt.Errorf("bigtiff option '%s' not one of auto, always, never", o.BigTIFF)
}

// WritePyramid writes every channel of `m` as a tiled full resolution
// page, with its reduced resolution levels hung off it as SubIFDs (the
// OME-TIFF pyramid layout). pixelSize is in microns.
func WritePyramid(filename string, m Mosaic, pixelSize float64, opts WriteOptions) error {
	opts.setDefaults()

	comp, err := opts.compressionTag()
	if err != nil {
		return err
	}
	big, err := opts.useBigTIFF(m)
	if err != nil {
		return err
	}
	if bps := m.BitsPerSample(); bps != 8 && bps != 16 {
		return fmt.Errorf("%w: writing %d bits per sample", ErrUnsupported, bps)
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("open+w '%s': %w", filename, err)
	}
	defer f.Close()

	tw := &tiffWriter{
		f:    f,
		h:    header{Order: binary.LittleEndian, BigTIFF: big},
		comp: comp,
		bps:  m.BitsPerSample(),
		opts: opts,
	}
	if pixelSize > 0 {
		tw.pixelsPerCM = 1e4 / pixelSize
	}

	if err := tw.writeHeader(); err != nil {
		return err
	}

	for c := 0; c < m.NumChannels(); c++ {
		plane, err := m.Channel(c)
		if err != nil {
			return fmt.Errorf("channel %d: %w", c, err)
		}
		if plane.Bounds().Size() != m.Size() {
			return fmt.Errorf("channel %d is %s, mosaic is %s", c, plane.Bounds().Size(), m.Size())
		}

		levels := BuildLevels(plane, opts.DownscaleFactor, opts.TileSize)
		if opts.Verbosity > 0 {
			log.Printf("Writing channel %d/%d, %d levels\n", c+1, m.NumChannels(), len(levels))
		}

		subIFDs := []uint64{}
		for l := 1; l < len(levels); l++ {
			downsample := float64(levels[0].Bounds().Dx()) / float64(levels[l].Bounds().Dx())
			off, _, err := tw.writePage(levels[l], downsample, nil, "")
			if err != nil {
				return fmt.Errorf("channel %d level %d: %w", c, l, err)
			}
			subIFDs = append(subIFDs, uint64(off))
		}

		desc := ""
		if c == 0 {
			desc = opts.Description
		}
		off, nextPos, err := tw.writePage(levels[0], 1, subIFDs, desc)
		if err != nil {
			return fmt.Errorf("channel %d level 0: %w", c, err)
		}
		if err := tw.patchOffset(tw.prevNextPos, off); err != nil {
			return err
		}
		tw.prevNextPos = nextPos
	}

	return f.Close()
}

// BuildLevels returns the plane followed by successively reduced
// copies, each `factor` times smaller, stopping once a level fits
// inside one tile.
func BuildLevels(plane *image.Gray16, factor, tileSize int) []*image.Gray16 {
	levels := []*image.Gray16{plane}
	for {
		sz := levels[len(levels)-1].Bounds().Size()
		if sz.X <= tileSize && sz.Y <= tileSize {
			break
		}
		if sz.X < factor || sz.Y < factor {
			break
		}
		levels = append(levels, Downsample(levels[len(levels)-1], factor))
	}
	return levels
}

// Downsample averages factor x factor blocks; blocks at the right and
// bottom edges average only the pixels that exist.
func Downsample(src *image.Gray16, factor int) *image.Gray16 {
	b := src.Bounds()
	w, h := (b.Dx()+factor-1)/factor, (b.Dy()+factor-1)/factor
	dst := image.NewGray16(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, n := uint64(0), uint64(0)
			for dy := 0; dy < factor; dy++ {
				sy := b.Min.Y + y*factor + dy
				if sy >= b.Max.Y {
					break
				}
				for dx := 0; dx < factor; dx++ {
					sx := b.Min.X + x*factor + dx
					if sx >= b.Max.X {
						break
					}
					i := src.PixOffset(sx, sy)
					sum += uint64(src.Pix[i])<<8 | uint64(src.Pix[i+1])
					n++
				}
			}
			v := uint16((sum + n/2) / n)
			i := dst.PixOffset(x, y)
			dst.Pix[i], dst.Pix[i+1] = uint8(v>>8), uint8(v)
		}
	}
	return dst
}

type tiffWriter struct {
	f           *os.File
	h           header
	pos         int64
	comp        int
	bps         int
	pixelsPerCM float64
	opts        WriteOptions
	prevNextPos int64 // where to write the offset of the next top level IFD
}

func (tw *tiffWriter) write(b []byte) error {
	if !tw.h.BigTIFF && tw.pos+int64(len(b)) > classicLimit {
		return fmt.Errorf("%w: writing past offset %d", ErrTooLarge, tw.pos)
	}
	n, err := tw.f.Write(b)
	tw.pos += int64(n)
	return err
}

func (tw *tiffWriter) align() error {
	if tw.pos%2 == 1 {
		return tw.write([]byte{0})
	}
	return nil
}

func (tw *tiffWriter) writeHeader() error {
	b := []byte{'I', 'I'}
	if tw.h.BigTIFF {
		b = binary.LittleEndian.AppendUint16(b, 43)
		b = binary.LittleEndian.AppendUint16(b, 8)
		b = binary.LittleEndian.AppendUint16(b, 0)
		tw.prevNextPos = 8
		b = binary.LittleEndian.AppendUint64(b, 0)
	} else {
		b = binary.LittleEndian.AppendUint16(b, 42)
		tw.prevNextPos = 4
		b = binary.LittleEndian.AppendUint32(b, 0)
	}
	return tw.write(b)
}

func (tw *tiffWriter) patchOffset(pos, offset int64) error {
	if !tw.h.BigTIFF && offset > classicLimit {
		return fmt.Errorf("%w: offset %d", ErrTooLarge, offset)
	}
	b := make([]byte, tw.h.offsetSize())
	if tw.h.BigTIFF {
		tw.h.Order.PutUint64(b, uint64(offset))
	} else {
		tw.h.Order.PutUint32(b, uint32(offset))
	}
	if _, err := tw.f.WriteAt(b, pos); err != nil {
		return fmt.Errorf("patch offset @%d: %w", pos, err)
	}
	return nil
}

// writePage writes the tiles of a plane and then its IFD. It returns
// the IFD offset, and the position of the IFD's next-pointer.
func (tw *tiffWriter) writePage(plane *image.Gray16, downsample float64, subIFDs []uint64, desc string) (int64, int64, error) {
	offsets, counts, err := tw.writeTiles(plane)
	if err != nil {
		return 0, 0, err
	}

	sz := plane.Bounds().Size()
	ifdb := newIFDBuilder(tw.h)
	if downsample > 1 {
		ifdb.longs(tNewSubfileType, 1)
	} else {
		ifdb.longs(tNewSubfileType, 0)
	}
	ifdb.longs(tImageWidth, uint64(sz.X))
	ifdb.longs(tImageLength, uint64(sz.Y))
	ifdb.shorts(tBitsPerSample, uint16(tw.bps))
	ifdb.shorts(tCompression, uint16(tw.comp))
	ifdb.shorts(tPhotometric, photometricBlackIsZero)
	if desc != "" {
		ifdb.ascii(tImageDescription, desc)
	}
	ifdb.shorts(tSamplesPerPixel, 1)
	if tw.pixelsPerCM > 0 {
		ifdb.rational(tXResolution, tw.pixelsPerCM/downsample)
		ifdb.rational(tYResolution, tw.pixelsPerCM/downsample)
	}
	ifdb.shorts(tPlanarConfig, 1)
	if tw.pixelsPerCM > 0 {
		ifdb.shorts(tResolutionUnit, resolutionUnitCM)
	}
	ifdb.ascii(tSoftware, tw.opts.Software)
	ifdb.longs(tTileWidth, uint64(tw.opts.TileSize))
	ifdb.longs(tTileLength, uint64(tw.opts.TileSize))
	ifdb.offsets(tTileOffsets, offsets...)
	ifdb.longs(tTileByteCounts, counts...)
	if len(subIFDs) > 0 {
		ifdb.ifds(tSubIFDs, subIFDs...)
	}
	ifdb.shorts(tSampleFormat, sampleFormatUint)

	if err := tw.align(); err != nil {
		return 0, 0, err
	}
	ifdOffset := tw.pos
	b, nextPos := ifdb.encode(ifdOffset)
	if err := tw.write(b); err != nil {
		return 0, 0, fmt.Errorf("write ifd: %w", err)
	}
	return ifdOffset, ifdOffset + nextPos, nil
}

type encodedTile struct {
	b   []byte
	err error
}

// writeTiles cuts the plane into tiles, compresses them in parallel, and
// writes them out in order as they become ready. At most two tiles per
// worker are held in memory at once. It returns the tile offsets and
// byte counts.
func (tw *tiffWriter) writeTiles(plane *image.Gray16) ([]uint64, []uint64, error) {
	ts := tw.opts.TileSize
	b := plane.Bounds()
	across, down := (b.Dx()+ts-1)/ts, (b.Dy()+ts-1)/ts
	n := across * down

	results := make([]chan encodedTile, n)
	for i := range results {
		results[i] = make(chan encodedTile, 1)
	}
	window := make(chan struct{}, 2*tw.opts.Workers)
	done := make(chan struct{})
	defer close(done)

	g := new(errgroup.Group)
	g.SetLimit(tw.opts.Workers)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i := 0; i < n; i++ {
			select {
			case window <- struct{}{}:
			case <-done:
				return
			}
			i := i
			g.Go(func() error {
				tx, ty := i%across, i/across
				r := image.Rect(tx*ts, ty*ts, (tx+1)*ts, (ty+1)*ts).Add(b.Min)
				t, err := tw.encodeTile(plane, r)
				results[i] <- encodedTile{t, err}
				return err
			})
		}
	}()

	offsets := make([]uint64, n)
	counts := make([]uint64, n)
	for i := 0; i < n; i++ {
		t := <-results[i]
		<-window
		if t.err != nil {
			return nil, nil, fmt.Errorf("encode tile %d: %w", i, t.err)
		}
		offsets[i], counts[i] = uint64(tw.pos), uint64(len(t.b))
		if err := tw.write(t.b); err != nil {
			return nil, nil, fmt.Errorf("write tile %d: %w", i, err)
		}
	}

	<-launched
	return offsets, counts, g.Wait()
}

func (tw *tiffWriter) encodeTile(plane *image.Gray16, r image.Rectangle) ([]byte, error) {
	bytesPerSample := tw.bps / 8
	raw := make([]byte, r.Dx()*r.Dy()*bytesPerSample)
	valid := r.Intersect(plane.Bounds())
	for y := valid.Min.Y; y < valid.Max.Y; y++ {
		for x := valid.Min.X; x < valid.Max.X; x++ {
			i := plane.PixOffset(x, y)
			v := uint16(plane.Pix[i])<<8 | uint16(plane.Pix[i+1])
			o := ((y-r.Min.Y)*r.Dx() + (x - r.Min.X)) * bytesPerSample
			if bytesPerSample == 1 {
				if v > 0xFF {
					v = 0xFF
				}
				raw[o] = uint8(v)
			} else {
				tw.h.Order.PutUint16(raw[o:], v)
			}
		}
	}

	if tw.comp == compressionNone {
		return raw, nil
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ifdBuilder accumulates tag values, and lays them out as an IFD
// followed by the values that don't fit inline.
type ifdBuilder struct {
	h       header
	order   binary.AppendByteOrder
	entries []entry
}

// We only ever write little endian files
func newIFDBuilder(h header) *ifdBuilder { return &ifdBuilder{h: h, order: binary.LittleEndian} }

func (ib *ifdBuilder) add(tag, typ uint16, count uint64, val []byte) {
	ib.entries = append(ib.entries, entry{Tag: tag, Type: typ, Count: count, Val: val})
}

func (ib *ifdBuilder) shorts(tag uint16, vals ...uint16) {
	b := []byte{}
	for _, v := range vals {
		b = ib.order.AppendUint16(b, v)
	}
	ib.add(tag, dtShort, uint64(len(vals)), b)
}

// longs are LONG in classic TIFF; values that can exceed 32 bits must use offsets()
func (ib *ifdBuilder) longs(tag uint16, vals ...uint64) {
	b := []byte{}
	typ := uint16(dtLong)
	if ib.h.BigTIFF && tag == tTileByteCounts {
		typ = dtLong8
	}
	for _, v := range vals {
		if typ == dtLong8 {
			b = ib.order.AppendUint64(b, v)
		} else {
			b = ib.order.AppendUint32(b, uint32(v))
		}
	}
	ib.add(tag, typ, uint64(len(vals)), b)
}

func (ib *ifdBuilder) offsets(tag uint16, vals ...uint64) {
	b := []byte{}
	typ := uint16(dtLong)
	if ib.h.BigTIFF {
		typ = dtLong8
	}
	for _, v := range vals {
		if ib.h.BigTIFF {
			b = ib.order.AppendUint64(b, v)
		} else {
			b = ib.order.AppendUint32(b, uint32(v))
		}
	}
	ib.add(tag, typ, uint64(len(vals)), b)
}

func (ib *ifdBuilder) ifds(tag uint16, vals ...uint64) {
	ib.offsets(tag, vals...)
	if ib.h.BigTIFF {
		ib.entries[len(ib.entries)-1].Type = dtIFD8
	}
}

func (ib *ifdBuilder) ascii(tag uint16, s string) {
	b := append([]byte(s), 0)
	ib.add(tag, dtASCII, uint64(len(b)), b)
}

func (ib *ifdBuilder) rational(tag uint16, v float64) {
	const denom = 10000
	b := ib.order.AppendUint32(nil, uint32(v*denom+0.5))
	b = ib.order.AppendUint32(b, denom)
	ib.add(tag, dtRational, 1, b)
}

// encode lays out the IFD at file offset `at`, returning the bytes and
// the position of the next-IFD pointer relative to `at`.
func (ib *ifdBuilder) encode(at int64) ([]byte, int64) {
	sort.Slice(ib.entries, func(i, j int) bool { return ib.entries[i].Tag < ib.entries[j].Tag })

	h, order := ib.h, ib.order
	countSize, esz, osz := 2, h.entrySize(), h.offsetSize()
	if h.BigTIFF {
		countSize = 8
	}
	tableLen := countSize + len(ib.entries)*esz + osz

	var table, overflow []byte
	if h.BigTIFF {
		table = order.AppendUint64(table, uint64(len(ib.entries)))
	} else {
		table = order.AppendUint16(table, uint16(len(ib.entries)))
	}

	for _, e := range ib.entries {
		table = order.AppendUint16(table, e.Tag)
		table = order.AppendUint16(table, e.Type)
		if h.BigTIFF {
			table = order.AppendUint64(table, e.Count)
		} else {
			table = order.AppendUint32(table, uint32(e.Count))
		}

		if len(e.Val) <= osz {
			inline := make([]byte, osz)
			copy(inline, e.Val)
			table = append(table, inline...)
			continue
		}

		if len(overflow)%2 == 1 {
			overflow = append(overflow, 0)
		}
		valOffset := uint64(at) + uint64(tableLen) + uint64(len(overflow))
		if h.BigTIFF {
			table = order.AppendUint64(table, valOffset)
		} else {
			table = order.AppendUint32(table, uint32(valOffset))
		}
		overflow = append(overflow, e.Val...)
	}

	nextPos := int64(len(table))
	table = append(table, make([]byte, osz)...) // next IFD, patched later
	return append(table, overflow...), nextPos
}
