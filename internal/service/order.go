package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"kalyn/backend/internal/domain"
	"kalyn/backend/internal/xid"
)

// labelPrefix is the brand code printed in front of every order line label.
const labelPrefix = "T005"

// Document template capacities. The delivery-order template has 15 line rows
// and the barcode sheet has 280 label slots.
const (
	maxOrderLines   = 15
	maxBarcodeUnits = 280
)

// BuildDeliveryOrder assembles an order from user selections against the
// warehouse snapshot. The order is transient; nothing is written to the
// ledger until CommitDeliveryOrder.
func (s *Service) BuildDeliveryOrder(ctx context.Context, req domain.DeliveryOrderRequest) (*domain.DeliveryOrder, error) {
	outlet, err := s.repo.GetStore(ctx, req.ToStoreID)
	if err != nil {
		return nil, err
	}
	if outlet.IsWarehouse {
		return nil, &ValidationError{Field: "to_store_id", Reason: "destination must be an outlet, not the warehouse"}
	}

	warehouseID := s.warehouseStoreID
	available, err := s.ListAvailableStock(ctx, &warehouseID)
	if err != nil {
		return nil, err
	}

	type cell struct {
		sku  string
		size string
	}
	byCell := make(map[cell]domain.AvailableStock, len(available))
	for _, row := range available {
		byCell[cell{row.SKU, row.Size}] = row
	}

	seen := make(map[cell]bool, len(req.Selections))
	lines := make([]domain.DeliveryOrderLine, 0, len(req.Selections))
	var grandTotal int64
	var totalUnits int64

	for _, sel := range req.Selections {
		if sel.Quantity <= 0 {
			continue
		}
		sku := strings.ToUpper(strings.TrimSpace(sel.SKU))
		size := strings.TrimSpace(sel.Size)
		if size == "" {
			size = domain.DefaultSize
		}

		key := cell{sku, size}
		if seen[key] {
			return nil, &ValidationError{Field: "selections", Reason: fmt.Sprintf("duplicate line for %s size %s", sku, size)}
		}
		seen[key] = true

		stock, ok := byCell[key]
		if !ok {
			return nil, &ValidationError{Field: "selections", Reason: fmt.Sprintf("%s size %s is not in warehouse stock", sku, size)}
		}
		if sel.Quantity > stock.Quantity {
			return nil, &ValidationError{Field: "selections", Reason: fmt.Sprintf("%s size %s: requested %d but only %d available", sku, size, sel.Quantity, stock.Quantity)}
		}
		if stock.SellPrice == nil {
			return nil, &ValidationError{Field: "selections", Reason: fmt.Sprintf("%s has no sell price", sku)}
		}

		unitPrice := *stock.SellPrice
		lineTotal := unitPrice * sel.Quantity
		lines = append(lines, domain.DeliveryOrderLine{
			Index:            len(lines) + 1,
			Label:            fmt.Sprintf("%s-%s-%s", labelPrefix, stock.Category, stock.ItemName),
			SKU:              sku,
			ItemID:           stock.ItemID,
			Color:            stock.Color,
			Size:             size,
			Quantity:         sel.Quantity,
			UnitPrice:        unitPrice,
			UnitPriceDisplay: domain.FormatRupiah(unitPrice),
			LineTotal:        lineTotal,
			LineTotalDisplay: domain.FormatRupiah(lineTotal),
		})
		grandTotal += lineTotal
		totalUnits += sel.Quantity
	}

	if len(lines) == 0 {
		return nil, &ValidationError{Field: "selections", Reason: "no lines with positive quantity"}
	}
	if len(lines) > maxOrderLines {
		return nil, &ValidationError{Field: "selections", Reason: fmt.Sprintf("at most %d lines fit the delivery-order document", maxOrderLines)}
	}
	if totalUnits > maxBarcodeUnits {
		return nil, &ValidationError{Field: "selections", Reason: fmt.Sprintf("at most %d units fit the barcode sheet", maxBarcodeUnits)}
	}

	order := &domain.DeliveryOrder{
		Reference:  xid.New("do"),
		OutletName: outlet.Name,
		Lines:      lines,
		GrandTotal: grandTotal,
	}

	s.logger.Info("delivery order built",
		zap.String("reference", order.Reference),
		zap.String("outlet", outlet.Name),
		zap.Int("lines", len(lines)),
		zap.Int64("grand_total", grandTotal))
	return order, nil
}

// CommitDeliveryOrder moves each order line from the warehouse to the
// destination outlet. Lines are attempted independently: a failed line is
// reported in its result and does not undo lines already moved.
func (s *Service) CommitDeliveryOrder(ctx context.Context, order *domain.DeliveryOrder, toStoreID int64) []domain.LineCommitResult {
	results := make([]domain.LineCommitResult, 0, len(order.Lines))
	for _, line := range order.Lines {
		result := domain.LineCommitResult{
			SKU:      line.SKU,
			Size:     line.Size,
			Quantity: line.Quantity,
		}

		err := s.Transfer(ctx, domain.TransferRequest{
			ItemID:      line.ItemID,
			Size:        line.Size,
			FromStoreID: s.warehouseStoreID,
			ToStoreID:   toStoreID,
			Quantity:    line.Quantity,
		})
		if err != nil {
			result.Message = err.Error()
			s.logger.Error("delivery order line failed",
				zap.String("reference", order.Reference),
				zap.String("sku", line.SKU),
				zap.String("size", line.Size),
				zap.Error(err))
		} else {
			result.OK = true
			result.Message = "moved"
		}
		results = append(results, result)
	}
	return results
}
