package docgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kalyn/backend/internal/barcode"
	"kalyn/backend/internal/domain"
	"kalyn/backend/internal/storage"
)

// Template row/slot counts. Selections beyond these are rejected upstream by
// the order builder.
const (
	orderTemplateRows = 15
	barcodeSlots      = 280
)

// Generator fills the delivery-order and barcode-label documents for a
// committed order. Barcode images are cached in the object store under
// "<sku>.jpg" and reused across orders.
type Generator struct {
	templates TemplateClient
	objects   storage.ObjectStore
	barcodes  barcode.Source
	logger    *zap.Logger

	orderTemplateID   string
	barcodeTemplateID string
	barcodeFolderID   string
}

type GeneratorConfig struct {
	OrderTemplateID   string
	BarcodeTemplateID string
	BarcodeFolderID   string
}

func NewGenerator(templates TemplateClient, objects storage.ObjectStore, barcodes barcode.Source, logger *zap.Logger, cfg GeneratorConfig) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		templates:         templates,
		objects:           objects,
		barcodes:          barcodes,
		logger:            logger,
		orderTemplateID:   cfg.OrderTemplateID,
		barcodeTemplateID: cfg.BarcodeTemplateID,
		barcodeFolderID:   cfg.BarcodeFolderID,
	}
}

// Generate produces both documents for the order in the outlet's folders.
func (g *Generator) Generate(ctx context.Context, order *domain.DeliveryOrder, outlet *domain.Store) (*domain.GeneratedDocs, error) {
	if len(order.Lines) == 0 {
		return nil, errors.New("order has no lines")
	}
	if len(order.Lines) > orderTemplateRows {
		return nil, fmt.Errorf("order has %d lines but the template holds %d", len(order.Lines), orderTemplateRows)
	}

	artifacts, err := g.ensureBarcodes(ctx, order)
	if err != nil {
		return nil, err
	}
	order.Barcodes = artifacts

	orderDocID, err := g.generateOrderDoc(ctx, order, outlet, artifacts)
	if err != nil {
		return nil, err
	}
	barcodeDocID, err := g.generateBarcodeDoc(ctx, order, outlet, artifacts)
	if err != nil {
		return nil, err
	}

	g.logger.Info("documents generated",
		zap.String("reference", order.Reference),
		zap.String("order_doc_id", orderDocID),
		zap.String("barcode_doc_id", barcodeDocID))
	return &domain.GeneratedDocs{
		DeliveryOrderDocID: orderDocID,
		BarcodeDocID:       barcodeDocID,
	}, nil
}

// ensureBarcodes resolves one barcode artifact per order line, uploading
// freshly rendered images only for SKUs not yet in the barcode folder.
func (g *Generator) ensureBarcodes(ctx context.Context, order *domain.DeliveryOrder) ([]domain.BarcodeArtifact, error) {
	artifacts := make([]domain.BarcodeArtifact, 0, len(order.Lines))
	for _, line := range order.Lines {
		name := line.SKU + ".jpg"

		fileID, err := g.objects.Find(ctx, g.barcodeFolderID, name)
		if errors.Is(err, storage.ErrNotFound) {
			image, fetchErr := g.barcodes.Image(ctx, line.SKU)
			if fetchErr != nil {
				return nil, fmt.Errorf("barcode image for %s: %w", line.SKU, fetchErr)
			}
			fileID, err = g.objects.Upload(ctx, g.barcodeFolderID, name, "image/jpeg", bytes.NewReader(image))
			if err != nil {
				return nil, fmt.Errorf("barcode upload for %s: %w", line.SKU, err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("barcode lookup for %s: %w", line.SKU, err)
		}

		url, err := g.objects.PublicURL(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("barcode url for %s: %w", line.SKU, err)
		}
		artifacts = append(artifacts, domain.BarcodeArtifact{FileID: fileID, PublicURL: url})
	}
	return artifacts, nil
}

func (g *Generator) generateOrderDoc(ctx context.Context, order *domain.DeliveryOrder, outlet *domain.Store, artifacts []domain.BarcodeArtifact) (string, error) {
	name := copyName(outlet.Name)
	docID, err := g.templates.CopyTemplate(ctx, g.orderTemplateID, outlet.DocFolderID, name)
	if err != nil {
		return "", err
	}

	replacements := map[string]string{
		"{{date}}":           time.Now().Format("02-01-2006"),
		"{{store_location}}": outlet.Name,
		"{{total_sum}}":      domain.FormatRupiah(order.GrandTotal),
	}
	for i, line := range order.Lines {
		n := strconv.Itoa(i + 1)
		replacements["{{no_"+n+"}}"] = n
		replacements["{{cat_"+n+"}}"] = line.Label
		replacements["{{color_"+n+"}}"] = line.Color
		replacements["{{size_"+n+"}}"] = line.Size
		replacements["{{harga_"+n+"}}"] = line.UnitPriceDisplay
		replacements["{{qty_"+n+"}}"] = strconv.FormatInt(line.Quantity, 10)
		replacements["{{harga_sum_"+n+"}}"] = line.LineTotalDisplay
	}
	if err := g.templates.ReplaceText(ctx, docID, replacements); err != nil {
		return "", err
	}

	for i := range order.Lines {
		placeholder := "{{barcode_" + strconv.Itoa(i+1) + "}}"
		if err := g.templates.ReplaceWithImage(ctx, docID, placeholder, artifacts[i].PublicURL); err != nil {
			return "", err
		}
	}

	if err := g.templates.DeletePlaceholderRows(ctx, docID); err != nil {
		return "", err
	}
	return docID, nil
}

// generateBarcodeDoc fills one label slot per physical unit: a line with
// qty 3 occupies three consecutive slots.
func (g *Generator) generateBarcodeDoc(ctx context.Context, order *domain.DeliveryOrder, outlet *domain.Store, artifacts []domain.BarcodeArtifact) (string, error) {
	name := copyName(outlet.Name) + "-barcodes"
	docID, err := g.templates.CopyTemplate(ctx, g.barcodeTemplateID, outlet.BarcodeFolderID, name)
	if err != nil {
		return "", err
	}

	type slot struct {
		label string
		price string
		url   string
	}
	slots := make([]slot, 0, barcodeSlots)
	for i, line := range order.Lines {
		for unit := int64(0); unit < line.Quantity; unit++ {
			slots = append(slots, slot{
				label: line.Label,
				price: "Rp " + line.UnitPriceDisplay,
				url:   artifacts[i].PublicURL,
			})
		}
	}
	if len(slots) > barcodeSlots {
		return "", fmt.Errorf("order needs %d label slots but the template holds %d", len(slots), barcodeSlots)
	}

	replacements := make(map[string]string, barcodeSlots*2)
	for i, sl := range slots {
		n := strconv.Itoa(i + 1)
		replacements["{{cat_"+n+"}}"] = sl.label
		replacements["{{price_"+n+"}}"] = sl.price
	}
	// Blank the unused slots so the printed sheet has no stray placeholders.
	for i := len(slots); i < barcodeSlots; i++ {
		n := strconv.Itoa(i + 1)
		replacements["{{cat_"+n+"}}"] = ""
		replacements["{{price_"+n+"}}"] = ""
		replacements["{{barcode_"+n+"}}"] = ""
	}
	if err := g.templates.ReplaceText(ctx, docID, replacements); err != nil {
		return "", err
	}

	for i, sl := range slots {
		placeholder := "{{barcode_" + strconv.Itoa(i+1) + "}}"
		if err := g.templates.ReplaceWithImage(ctx, docID, placeholder, sl.url); err != nil {
			return "", err
		}
	}
	return docID, nil
}

func copyName(outletName string) string {
	stamp := time.Now().Format("20060102-150405")
	return outletName + "-" + stamp + "-" + uuid.NewString()[:8]
}
