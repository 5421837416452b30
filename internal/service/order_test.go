package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"kalyn/backend/internal/cache"
	"kalyn/backend/internal/domain"
	"kalyn/backend/internal/store/memory"
)

// stockIn puts units into the warehouse ledger for an item.
func stockIn(t *testing.T, svc *Service, itemID int64, size string, qty int64) {
	t.Helper()
	if _, err := svc.RecordMovement(context.Background(), domain.MovementRequest{
		Item:     domain.ItemRef{ItemID: itemID},
		StoreID:  warehouseID,
		Size:     size,
		Kind:     domain.MovementStockIn,
		Quantity: qty,
	}); err != nil {
		t.Fatalf("stock in: %v", err)
	}
}

func TestBuildDeliveryOrderComputesLinesAndTotals(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 10}, 150000)
	stockIn(t, svc, item.ID, "M", 10)

	order, err := svc.BuildDeliveryOrder(ctx, domain.DeliveryOrderRequest{
		ToStoreID: bandaID,
		Selections: []domain.OrderSelection{
			{SKU: item.SKU, Size: "M", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}

	if order.OutletName != "banda" {
		t.Fatalf("expected outlet banda, got %s", order.OutletName)
	}
	if order.Reference == "" {
		t.Fatalf("expected a reference")
	}
	if len(order.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(order.Lines))
	}
	line := order.Lines[0]
	if line.Label != "T005-Dress-Gown" {
		t.Fatalf("unexpected label %q", line.Label)
	}
	if line.LineTotal != 450000 {
		t.Fatalf("expected line total 450000, got %d", line.LineTotal)
	}
	if line.UnitPriceDisplay != "150.000" || line.LineTotalDisplay != "450.000" {
		t.Fatalf("unexpected displays %q %q", line.UnitPriceDisplay, line.LineTotalDisplay)
	}
	if order.GrandTotal != 450000 {
		t.Fatalf("expected grand total 450000, got %d", order.GrandTotal)
	}
}

func TestBuildDeliveryOrderDropsNonPositiveLines(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 10}, 1000)
	stockIn(t, svc, item.ID, "M", 5)

	order, err := svc.BuildDeliveryOrder(ctx, domain.DeliveryOrderRequest{
		ToStoreID: bandaID,
		Selections: []domain.OrderSelection{
			{SKU: item.SKU, Size: "M", Quantity: 0},
			{SKU: item.SKU, Size: "M", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}
	if len(order.Lines) != 1 || order.Lines[0].Quantity != 2 {
		t.Fatalf("expected the zero-qty line to be dropped: %+v", order.Lines)
	}

	_, err = svc.BuildDeliveryOrder(ctx, domain.DeliveryOrderRequest{
		ToStoreID: bandaID,
		Selections: []domain.OrderSelection{
			{SKU: item.SKU, Size: "M", Quantity: 0},
		},
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for empty order, got %v", err)
	}
}

func TestBuildDeliveryOrderRejectsDuplicateLine(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 10}, 1000)
	stockIn(t, svc, item.ID, "M", 5)

	_, err := svc.BuildDeliveryOrder(ctx, domain.DeliveryOrderRequest{
		ToStoreID: bandaID,
		Selections: []domain.OrderSelection{
			{SKU: item.SKU, Size: "M", Quantity: 1},
			{SKU: item.SKU, Size: "M", Quantity: 2},
		},
	})
	if !IsValidation(err) {
		t.Fatalf("expected duplicate line rejection, got %v", err)
	}
}

func TestBuildDeliveryOrderCapsAtAvailabilityWithoutMoving(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 10}, 1000)
	stockIn(t, svc, item.ID, "M", 3)
	before := repo.MovementCount()

	_, err := svc.BuildDeliveryOrder(ctx, domain.DeliveryOrderRequest{
		ToStoreID: bandaID,
		Selections: []domain.OrderSelection{
			{SKU: item.SKU, Size: "M", Quantity: 4},
		},
	})
	if !IsValidation(err) {
		t.Fatalf("expected availability rejection, got %v", err)
	}
	if repo.MovementCount() != before {
		t.Fatalf("builder must not write to the ledger")
	}
}

func TestBuildDeliveryOrderRejectsWarehouseDestination(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 10}, 1000)
	stockIn(t, svc, item.ID, "M", 3)

	_, err := svc.BuildDeliveryOrder(ctx, domain.DeliveryOrderRequest{
		ToStoreID: warehouseID,
		Selections: []domain.OrderSelection{
			{SKU: item.SKU, Size: "M", Quantity: 1},
		},
	})
	if !IsValidation(err) {
		t.Fatalf("expected warehouse destination rejection, got %v", err)
	}
}

func TestCommitDeliveryOrderMovesStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 10}, 1000)
	stockIn(t, svc, item.ID, "M", 10)

	order, err := svc.BuildDeliveryOrder(ctx, domain.DeliveryOrderRequest{
		ToStoreID: bandaID,
		Selections: []domain.OrderSelection{
			{SKU: item.SKU, Size: "M", Quantity: 4},
		},
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}

	results := svc.CommitDeliveryOrder(ctx, order, bandaID)
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("expected one successful line, got %+v", results)
	}

	warehouseQty, _ := svc.CurrentQuantity(ctx, domain.ItemRef{ItemID: item.ID}, warehouseID, "M")
	bandaQty, _ := svc.CurrentQuantity(ctx, domain.ItemRef{ItemID: item.ID}, bandaID, "M")
	if warehouseQty != 6 || bandaQty != 4 {
		t.Fatalf("expected 6/4 after commit, got %d/%d", warehouseQty, bandaQty)
	}
}

func TestCommitDeliveryOrderReportsPerLineFailures(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopSnapshotCache{}, zap.NewNop(), warehouseID)
	ctx := context.Background()
	item := seedItemWith(t, svc)
	stockIn(t, svc, item.ID, "M", 10)
	stockIn(t, svc, item.ID, "L", 10)

	order, err := svc.BuildDeliveryOrder(ctx, domain.DeliveryOrderRequest{
		ToStoreID: bandaID,
		Selections: []domain.OrderSelection{
			{SKU: item.SKU, Size: "M", Quantity: 2},
			{SKU: item.SKU, Size: "L", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}

	// Commit through a repo that rejects writes at the destination: both
	// lines fail at transfer_in but the transfer_out writes stay.
	broken := New(&failingRepo{Repository: repo, failStoreID: bandaID}, cache.NoopSnapshotCache{}, zap.NewNop(), warehouseID)
	results := broken.CommitDeliveryOrder(ctx, order, bandaID)

	if len(results) != 2 {
		t.Fatalf("expected 2 line results, got %d", len(results))
	}
	for _, result := range results {
		if result.OK {
			t.Fatalf("expected line failure, got %+v", result)
		}
		if result.Message == "" {
			t.Fatalf("expected a failure message")
		}
	}
}
