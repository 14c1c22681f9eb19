package channel

import (
	"bytes"
	"image/png"
	"testing"

	"golang.org/x/image/webp"
)

func TestToWebPSticker_ScalesLongerSide(t *testing.T) {
	out, err := toWebPSticker(testPNG(t, 100, 50))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := webp.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("not a webp: %v", err)
	}
	if cfg.Width != 512 || cfg.Height != 256 {
		t.Errorf("size = %dx%d, want 512x256", cfg.Width, cfg.Height)
	}
}

func TestToWebPSticker_Portrait(t *testing.T) {
	out, err := toWebPSticker(testPNG(t, 64, 128))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := webp.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Height != 512 || cfg.Width != 256 {
		t.Errorf("size = %dx%d, want 256x512", cfg.Width, cfg.Height)
	}
}

func TestToPNG_FromWebP(t *testing.T) {
	sticker, err := toWebPSticker(testPNG(t, 512, 512))
	if err != nil {
		t.Fatal(err)
	}
	out, err := toPNG(sticker)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("not a png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 512 || b.Dy() != 512 {
		t.Errorf("bounds = %v", b)
	}
}

func TestToPNG_RejectsGarbage(t *testing.T) {
	if _, err := toPNG([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}
