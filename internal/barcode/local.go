package barcode

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
)

// LocalSource renders Code 128 images in-process. Used when the remote API
// is unreachable or disabled.
type LocalSource struct {
	width  int
	height int
}

func NewLocalSource() *LocalSource {
	return &LocalSource{width: 300, height: 90}
}

func (s *LocalSource) Image(_ context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("barcode text is empty")
	}

	encoded, err := code128.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", text, err)
	}
	scaled, err := barcode.Scale(encoded, s.width, s.height)
	if err != nil {
		return nil, fmt.Errorf("scale %q: %w", text, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
