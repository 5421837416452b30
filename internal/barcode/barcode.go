// Package barcode produces Code 128 barcode images for SKUs.
package barcode

import "context"

// Source renders one barcode image for the given text.
type Source interface {
	Image(ctx context.Context, text string) ([]byte, error)
}
