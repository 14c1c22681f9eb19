package channel

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/HugoSmits86/nativewebp"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

// Telegram wants static stickers as WebP with the longer side at 512px.
const stickerSide = 512

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// fitSticker scales img so that its longer side is exactly stickerSide.
func fitSticker(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch {
	case w >= h && w != stickerSide:
		return resize.Resize(stickerSide, 0, img, resize.Lanczos3)
	case h > w && h != stickerSide:
		return resize.Resize(0, stickerSide, img, resize.Lanczos3)
	}
	return img
}

// toWebPSticker re-encodes any decodable image as a Telegram sticker.
func toWebPSticker(data []byte) ([]byte, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, fitSticker(img), nil); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// toPNG re-encodes an image, typically a WebP sticker, for platforms that
// do not accept WebP uploads.
func toPNG(data []byte) ([]byte, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
