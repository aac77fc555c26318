// Package exif reads the few EXIF fields galleryd needs from JPEG files: the
// capture timestamp and the orientation.
package exif

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNoExif is returned when the data carries no parseable EXIF block.
var ErrNoExif = errors.New("exif: no EXIF data")

// ErrNoTimestamp is returned when EXIF data is present but holds neither
// DateTimeOriginal nor DateTime.
var ErrNoTimestamp = errors.New("exif: no timestamp")

// maxHeader bounds how much of a file is read looking for the APP1 segment.
const maxHeader = 1 << 20

const (
	tagDateTime         = 0x0132
	tagOrientation      = 0x0112
	tagExifIFDPointer   = 0x8769
	tagDateTimeOriginal = 0x9003

	typeASCII = 2
	typeShort = 3
	typeLong  = 4

	dateLayout = "2006:01:02 15:04:05"
)

// Metadata is the subset of EXIF fields galleryd uses. Zero values mean the
// tag was absent.
type Metadata struct {
	DateTimeOriginal time.Time
	DateTime         time.Time
	// Orientation is the EXIF orientation (1-8), 0 when absent.
	Orientation int
}

// DateTaken returns DateTimeOriginal, falling back to DateTime.
func (m *Metadata) DateTaken() (time.Time, bool) {
	if !m.DateTimeOriginal.IsZero() {
		return m.DateTimeOriginal, true
	}
	if !m.DateTime.IsZero() {
		return m.DateTime, true
	}
	return time.Time{}, false
}

// Read parses EXIF metadata from the start of a JPEG stream.
func Read(r io.Reader) (*Metadata, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxHeader))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// ReadDateTaken returns the capture time recorded in a JPEG stream. Files
// without EXIF or without a timestamp yield ErrNoTimestamp. EXIF times carry
// no zone and are interpreted as UTC.
func ReadDateTaken(r io.Reader) (time.Time, error) {
	m, err := Read(r)
	if errors.Is(err, ErrNoExif) {
		return time.Time{}, ErrNoTimestamp
	}
	if err != nil {
		return time.Time{}, err
	}
	t, ok := m.DateTaken()
	if !ok {
		return time.Time{}, ErrNoTimestamp
	}
	return t, nil
}

// Parse extracts EXIF metadata from JPEG bytes.
func Parse(b []byte) (*Metadata, error) {
	tiff, ok := findAPP1(b)
	if !ok {
		return nil, ErrNoExif
	}
	return parseTIFF(tiff)
}

// findAPP1 walks JPEG markers up to the start of scan and returns the TIFF
// payload of the Exif APP1 segment.
func findAPP1(b []byte) ([]byte, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1] != 0xD8 {
		return nil, false
	}
	i := 2
	for i+4 <= len(b) {
		if b[i] != 0xFF {
			return nil, false
		}
		marker := b[i+1]
		i += 2
		if marker == 0xD9 || marker == 0xDA {
			break
		}
		segLen := int(b[i])<<8 | int(b[i+1])
		i += 2
		if segLen < 2 || i+segLen-2 > len(b) {
			break
		}
		if marker == 0xE1 {
			seg := b[i : i+segLen-2]
			if len(seg) >= 6 && string(seg[:6]) == "Exif\x00\x00" {
				return seg[6:], true
			}
		}
		i += segLen - 2
	}
	return nil, false
}

type tiffReader struct {
	b     []byte
	order binary.ByteOrder
}

func (t *tiffReader) u16(off int) (uint16, bool) {
	if off < 0 || off+2 > len(t.b) {
		return 0, false
	}
	return t.order.Uint16(t.b[off:]), true
}

func (t *tiffReader) u32(off int) (uint32, bool) {
	if off < 0 || off+4 > len(t.b) {
		return 0, false
	}
	return t.order.Uint32(t.b[off:]), true
}

// entry is one 12-byte IFD entry.
type entry struct {
	tag, typ uint16
	count    uint32
	// valueOff is the offset of the inline value field.
	valueOff int
}

func (t *tiffReader) entries(ifd int) []entry {
	n, ok := t.u16(ifd)
	if !ok {
		return nil
	}
	var out []entry
	off := ifd + 2
	for i := 0; i < int(n); i++ {
		if off+12 > len(t.b) {
			break
		}
		tag, _ := t.u16(off)
		typ, _ := t.u16(off + 2)
		count, _ := t.u32(off + 4)
		out = append(out, entry{tag: tag, typ: typ, count: count, valueOff: off + 8})
		off += 12
	}
	return out
}

func (t *tiffReader) ascii(e entry) (string, bool) {
	if e.typ != typeASCII || e.count == 0 {
		return "", false
	}
	start := e.valueOff
	if e.count > 4 {
		p, ok := t.u32(e.valueOff)
		if !ok {
			return "", false
		}
		start = int(p)
	}
	end := start + int(e.count)
	if start < 0 || end > len(t.b) || end < start {
		return "", false
	}
	return strings.TrimRight(string(t.b[start:end]), "\x00 "), true
}

func (t *tiffReader) date(e entry) time.Time {
	s, ok := t.ascii(e)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func parseTIFF(b []byte) (*Metadata, error) {
	if len(b) < 8 {
		return nil, ErrNoExif
	}
	t := &tiffReader{b: b}
	switch string(b[:2]) {
	case "II":
		t.order = binary.LittleEndian
	case "MM":
		t.order = binary.BigEndian
	default:
		return nil, ErrNoExif
	}
	if magic, _ := t.u16(2); magic != 42 {
		return nil, ErrNoExif
	}
	ifd0, _ := t.u32(4)
	if ifd0 == 0 || int(ifd0)+2 > len(b) {
		return nil, ErrNoExif
	}

	m := &Metadata{}
	exifIFD := 0
	for _, e := range t.entries(int(ifd0)) {
		switch e.tag {
		case tagDateTime:
			m.DateTime = t.date(e)
		case tagOrientation:
			if e.typ == typeShort {
				if v, ok := t.u16(e.valueOff); ok && v >= 1 && v <= 8 {
					m.Orientation = int(v)
				}
			}
		case tagExifIFDPointer:
			if e.typ == typeLong {
				if p, ok := t.u32(e.valueOff); ok {
					exifIFD = int(p)
				}
			}
		}
	}
	if exifIFD > 0 && exifIFD != int(ifd0) {
		for _, e := range t.entries(exifIFD) {
			if e.tag == tagDateTimeOriginal {
				m.DateTimeOriginal = t.date(e)
			}
		}
	}
	return m, nil
}
