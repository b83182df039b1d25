// Package media removes embedded metadata (EXIF, GPS, text chunks) from
// image attachments before they leave the relay.
package media

import (
	"bytes"
	"fmt"
	"image/gif"
	"image/jpeg"
	"image/png"
)

// Strippable reports whether StripMetadata rewrites content of this type.
func Strippable(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	}
	return false
}

// StripMetadata re-encodes images so only pixel data survives. Data of
// other types is returned unchanged.
func StripMetadata(data []byte, contentType string) ([]byte, error) {
	if !Strippable(contentType) {
		return data, nil
	}

	var buf bytes.Buffer
	switch contentType {
	case "image/jpeg":
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding jpeg: %w", err)
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	case "image/png":
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding png: %w", err)
		}
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	case "image/gif":
		if err := reencodeGIF(&buf, data); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// reencodeGIF keeps every frame and its timing but drops comment and
// application extensions.
func reencodeGIF(buf *bytes.Buffer, data []byte) error {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding gif: %w", err)
	}
	out := &gif.GIF{
		Image:           g.Image,
		Delay:           g.Delay,
		Disposal:        g.Disposal,
		LoopCount:       g.LoopCount,
		Config:          g.Config,
		BackgroundIndex: g.BackgroundIndex,
	}
	if err := gif.EncodeAll(buf, out); err != nil {
		return fmt.Errorf("encoding gif: %w", err)
	}
	return nil
}
