package exif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

type ifdTag struct {
	tag uint16
	typ uint16
	// ascii is used for typeASCII, value for SHORT/LONG.
	ascii string
	value uint32
}

// buildTIFF lays out IFD0 at offset 8, the Exif IFD right after it, and the
// ASCII payloads after both.
func buildTIFF(order binary.ByteOrder, ifd0, exifIFD []ifdTag) []byte {
	ifdSize := func(n int) int { return 2 + 12*n + 4 }
	ifd0Off := 8
	exifOff := ifd0Off + ifdSize(len(ifd0)+boolInt(len(exifIFD) > 0))
	dataOff := exifOff
	if len(exifIFD) > 0 {
		dataOff += ifdSize(len(exifIFD))
	}

	buf := &bytes.Buffer{}
	if order == binary.LittleEndian {
		buf.WriteString("II")
	} else {
		buf.WriteString("MM")
	}
	binary.Write(buf, order, uint16(42))
	binary.Write(buf, order, uint32(ifd0Off))

	var payload bytes.Buffer
	writeIFD := func(tags []ifdTag) {
		binary.Write(buf, order, uint16(len(tags)))
		for _, tg := range tags {
			binary.Write(buf, order, tg.tag)
			binary.Write(buf, order, tg.typ)
			switch tg.typ {
			case typeASCII:
				s := tg.ascii + "\x00"
				binary.Write(buf, order, uint32(len(s)))
				binary.Write(buf, order, uint32(dataOff+payload.Len()))
				payload.WriteString(s)
			case typeShort:
				binary.Write(buf, order, uint32(1))
				binary.Write(buf, order, uint16(tg.value))
				binary.Write(buf, order, uint16(0))
			default:
				binary.Write(buf, order, uint32(1))
				binary.Write(buf, order, tg.value)
			}
		}
		binary.Write(buf, order, uint32(0))
	}

	tags0 := append([]ifdTag(nil), ifd0...)
	if len(exifIFD) > 0 {
		tags0 = append(tags0, ifdTag{tag: tagExifIFDPointer, typ: typeLong, value: uint32(exifOff)})
	}
	writeIFD(tags0)
	if len(exifIFD) > 0 {
		writeIFD(exifIFD)
	}
	buf.Write(payload.Bytes())
	return buf.Bytes()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// wrapJPEG puts tiff in an APP1 segment after an APP0 segment.
func wrapJPEG(tiff []byte) []byte {
	var b bytes.Buffer
	b.Write([]byte{0xFF, 0xD8})
	// APP0 JFIF, 16 bytes.
	b.Write([]byte{0xFF, 0xE0, 0x00, 0x10})
	b.WriteString("JFIF\x00")
	b.Write(make([]byte, 9))
	if tiff != nil {
		seg := append([]byte("Exif\x00\x00"), tiff...)
		b.Write([]byte{0xFF, 0xE1})
		binary.Write(&b, binary.BigEndian, uint16(len(seg)+2))
		b.Write(seg)
	}
	b.Write([]byte{0xFF, 0xDA, 0x00, 0x02})
	b.Write([]byte{0x00, 0xFF, 0xD9})
	return b.Bytes()
}

func TestReadDateTaken(t *testing.T) {
	original := time.Date(2019, 6, 15, 14, 30, 5, 0, time.UTC)
	modified := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		data    []byte
		want    time.Time
		wantErr error
	}{
		{
			name: "original little endian",
			data: wrapJPEG(buildTIFF(binary.LittleEndian,
				[]ifdTag{{tag: tagDateTime, typ: typeASCII, ascii: "2020:01:02 03:04:05"}},
				[]ifdTag{{tag: tagDateTimeOriginal, typ: typeASCII, ascii: "2019:06:15 14:30:05"}})),
			want: original,
		},
		{
			name: "original big endian",
			data: wrapJPEG(buildTIFF(binary.BigEndian, nil,
				[]ifdTag{{tag: tagDateTimeOriginal, typ: typeASCII, ascii: "2019:06:15 14:30:05"}})),
			want: original,
		},
		{
			name: "falls back to DateTime",
			data: wrapJPEG(buildTIFF(binary.LittleEndian,
				[]ifdTag{{tag: tagDateTime, typ: typeASCII, ascii: "2020:01:02 03:04:05"}}, nil)),
			want: modified,
		},
		{
			name: "unparseable date",
			data: wrapJPEG(buildTIFF(binary.LittleEndian,
				[]ifdTag{{tag: tagDateTime, typ: typeASCII, ascii: "0000:00:00 00:00:00"}}, nil)),
			wantErr: ErrNoTimestamp,
		},
		{
			name:    "no exif segment",
			data:    wrapJPEG(nil),
			wantErr: ErrNoTimestamp,
		},
		{
			name:    "not a jpeg",
			data:    []byte("\x89PNG\r\n\x1a\n"),
			wantErr: ErrNoTimestamp,
		},
		{
			name:    "truncated tiff",
			data:    wrapJPEG([]byte("II*\x00")),
			wantErr: ErrNoTimestamp,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadDateTaken(bytes.NewReader(tt.data))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadDateTaken: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseOrientation(t *testing.T) {
	data := wrapJPEG(buildTIFF(binary.BigEndian,
		[]ifdTag{{tag: tagOrientation, typ: typeShort, value: 6}}, nil))
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Orientation != 6 {
		t.Errorf("Orientation = %d, want 6", m.Orientation)
	}
	if _, ok := m.DateTaken(); ok {
		t.Error("DateTaken should report no date")
	}
}

func TestParseCorruptOffsets(t *testing.T) {
	tiff := buildTIFF(binary.LittleEndian,
		[]ifdTag{{tag: tagDateTime, typ: typeASCII, ascii: "2020:01:02 03:04:05"}}, nil)
	// Point the ASCII value far past the end of the buffer.
	binary.LittleEndian.PutUint32(tiff[8+2+8:], 0xFFFFFF)
	m, err := Parse(wrapJPEG(tiff))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !m.DateTime.IsZero() {
		t.Errorf("DateTime = %v, want zero", m.DateTime)
	}
}
