package thumbnail

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape", 400, 200, 100, 50},
		{"portrait", 200, 400, 50, 100},
		{"already small", 40, 30, 40, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Generate(encodePNG(t, tt.w, tt.h), 100, 100)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("output is not a JPEG: %v", err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestGenerateErrors(t *testing.T) {
	if _, err := Generate([]byte("not an image"), 100, 100); err == nil {
		t.Error("expected decode error")
	}
	if _, err := Generate(encodePNG(t, 10, 10), 0, 100); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("err = %v, want ErrInvalidSize", err)
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{1000, 10, 100, 100, 100, 1},
		{10, 1000, 100, 100, 1, 100},
		{300, 300, 300, 300, 300, 300},
		{600, 300, 300, 300, 300, 150},
		{0, 0, 300, 300, 1, 1},
	}
	for _, tt := range tests {
		w, h := Fit(tt.w, tt.h, tt.maxW, tt.maxH)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("Fit(%d,%d,%d,%d) = %d,%d, want %d,%d",
				tt.w, tt.h, tt.maxW, tt.maxH, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestName(t *testing.T) {
	tests := map[string]string{
		"beach.png":          "thumbnails/beach.jpg",
		"2021/05/photo.JPEG": "thumbnails/photo.jpg",
		"noext":              "thumbnails/noext.jpg",
	}
	for in, want := range tests {
		if got := Name(in); got != want {
			t.Errorf("Name(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOrient(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	src.Set(0, 0, color.RGBA{255, 0, 0, 255})

	rotated := orient(src, 6)
	if b := rotated.Bounds(); b.Dx() != 2 || b.Dy() != 4 {
		t.Fatalf("bounds = %v, want 2x4", b)
	}
	// Orientation 6 rotates clockwise: the top-left pixel ends up top-right.
	if r, _, _, _ := rotated.At(1, 0).RGBA(); r>>8 != 255 {
		t.Errorf("pixel not moved to top-right")
	}
}
