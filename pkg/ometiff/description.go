package ometiff

import (
	"fmt"
	"io"
	"os"
)

// SetDescription replaces the ImageDescription of the first page, in
// place. The new text is appended to the end of the file and the
// existing tag entry is repointed at it; the old text is left behind
// as dead bytes. The first page must already have a description.
func SetDescription(filename, desc string) error {
	f, err := os.OpenFile(filename, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open+rw '%s': %w", filename, err)
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return err
	}
	d, err := readIFD(f, h, h.FirstIFD)
	if err != nil {
		return err
	}
	e, exists := d.Entries[tImageDescription]
	if !exists {
		return fmt.Errorf("'%s': first page has no ImageDescription to replace", filename)
	}

	val := append([]byte(desc), 0)
	osz := h.offsetSize()

	// Rewrite the entry's type, count and value/offset fields
	patch := make([]byte, 2+(osz)+osz)
	h.Order.PutUint16(patch[0:], dtASCII)
	if h.BigTIFF {
		h.Order.PutUint64(patch[2:], uint64(len(val)))
	} else {
		h.Order.PutUint32(patch[2:], uint32(len(val)))
	}

	if len(val) <= osz {
		copy(patch[2+osz:], val)
	} else {
		end, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("seek end: %w", err)
		}
		if end%2 == 1 {
			if _, err := f.Write([]byte{0}); err != nil {
				return err
			}
			end++
		}
		if _, err := f.Write(val); err != nil {
			return fmt.Errorf("append description: %w", err)
		}
		if h.BigTIFF {
			h.Order.PutUint64(patch[2+osz:], uint64(end))
		} else {
			if end > 0xFFFFFFFF {
				return fmt.Errorf("'%s': description would land beyond 4GiB in a classic TIFF", filename)
			}
			h.Order.PutUint32(patch[2+osz:], uint32(end))
		}
	}

	// skip the tag id, which stays the same
	if _, err := f.WriteAt(patch, e.Pos+2); err != nil {
		return fmt.Errorf("patch description entry: %w", err)
	}

	return f.Close()
}
