package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"kalyn/backend/internal/cache"
	"kalyn/backend/internal/domain"
	"kalyn/backend/internal/store"
	"kalyn/backend/internal/store/memory"
)

const warehouseID = int64(4)
const bandaID = int64(1)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopSnapshotCache{}, zap.NewNop(), warehouseID)
	return svc, repo
}

// seedItem creates the master data triple and reconciles one item with the
// given costs and sell price, returning the created item.
func seedItem(t *testing.T, svc *Service, costs domain.CostComponents, sellPrice int64) *domain.Item {
	t.Helper()
	ctx := context.Background()

	category, err := svc.CreateCategory(ctx, domain.CategoryCreateRequest{Label: "Dress", Code: "DR"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	color, err := svc.CreateColor(ctx, domain.LabelCreateRequest{Label: "Red"})
	if err != nil {
		t.Fatalf("create color: %v", err)
	}
	name, err := svc.CreateItemName(ctx, domain.LabelCreateRequest{Label: "Gown"})
	if err != nil {
		t.Fatalf("create item name: %v", err)
	}

	result, err := svc.Reconcile(ctx, domain.ReconcileRequest{
		CategoryID: category.ID,
		ItemNameID: name.ID,
		ColorID:    color.ID,
		Costs:      costs,
		SellPrice:  &sellPrice,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.ItemCreated {
		t.Fatalf("expected item to be created")
	}
	return result.Item
}

func TestCreateCategoryRejectsBadLabel(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []domain.CategoryCreateRequest{
		{Label: "X", Code: "XX"},
		{Label: "Has 9 Digits", Code: "HD"},
		{Label: "Dress", Code: "D"},
		{Label: "Dress", Code: "D1"},
	}
	for _, req := range cases {
		if _, err := svc.CreateCategory(ctx, req); err == nil {
			t.Fatalf("expected rejection for %+v", req)
		} else if !IsValidation(err) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
}

func TestCreateCategoryRejectsCaseInsensitiveDuplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateCategory(ctx, domain.CategoryCreateRequest{Label: "Dress", Code: "DR"}); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := svc.CreateCategory(ctx, domain.CategoryCreateRequest{Label: "dress", Code: "ZZ"}); err == nil {
		t.Fatalf("expected duplicate label rejection")
	}
	if _, err := svc.CreateCategory(ctx, domain.CategoryCreateRequest{Label: "Skirt", Code: "dr"}); err == nil {
		t.Fatalf("expected duplicate code rejection")
	}
}

func TestCreateItemNameAllowsDigitsAndUnderscore(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateItemName(ctx, domain.LabelCreateRequest{Label: "Gown_2 v1"}); err != nil {
		t.Fatalf("expected item name to pass: %v", err)
	}
	if _, err := svc.CreateColor(ctx, domain.LabelCreateRequest{Label: "Red2"}); err == nil {
		t.Fatalf("expected color with digit to be rejected")
	}
}

func TestReconcileCreatesVersionOnChangedCosts(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	costs1 := domain.CostComponents{FabricCost: 100, SewingCost: 50, TransportCost: 10, PackingCost: 5}
	item := seedItem(t, svc, costs1, 500)

	// Same costs again: no new version.
	sell := int64(500)
	result, err := svc.Reconcile(ctx, domain.ReconcileRequest{
		CategoryID: item.CategoryID, ItemNameID: item.ItemNameID, ColorID: item.ColorID,
		Costs: costs1, SellPrice: &sell,
	})
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if result.ItemCreated || result.PriceChanged {
		t.Fatalf("expected idempotent reconcile, got %+v", result)
	}
	firstVersionID := result.Price.ID

	// One component changed: old closed, new open.
	costs2 := costs1
	costs2.SewingCost = 60
	result, err = svc.Reconcile(ctx, domain.ReconcileRequest{
		CategoryID: item.CategoryID, ItemNameID: item.ItemNameID, ColorID: item.ColorID,
		Costs: costs2, SellPrice: &sell,
	})
	if err != nil {
		t.Fatalf("third reconcile: %v", err)
	}
	if !result.PriceChanged {
		t.Fatalf("expected a new price version")
	}
	if result.Price.ID == firstVersionID {
		t.Fatalf("expected a different version id")
	}

	open, err := repo.GetOpenPriceVersion(ctx, item.ID)
	if err != nil {
		t.Fatalf("open version lookup: %v", err)
	}
	if open.ID != result.Price.ID || !open.Costs.Equal(costs2) {
		t.Fatalf("open version mismatch: %+v", open)
	}
}

func TestReconcileUpdatesSellPriceWithoutNewVersion(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	costs := domain.CostComponents{FabricCost: 100, SewingCost: 50, TransportCost: 20, PackingCost: 10}
	item := seedItem(t, svc, costs, 500)

	before, err := repo.GetOpenPriceVersion(ctx, item.ID)
	if err != nil {
		t.Fatalf("open version lookup: %v", err)
	}

	// Same costs, new sell price: the open version is kept and updated in
	// place, never closed.
	sell := int64(600)
	result, err := svc.Reconcile(ctx, domain.ReconcileRequest{
		CategoryID: item.CategoryID, ItemNameID: item.ItemNameID, ColorID: item.ColorID,
		Costs: costs, SellPrice: &sell,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.PriceChanged {
		t.Fatalf("sell-price change must not open a new version")
	}
	if result.Price.ID != before.ID {
		t.Fatalf("expected version %d to survive, got %d", before.ID, result.Price.ID)
	}
	if result.Price.SellPrice == nil || *result.Price.SellPrice != 600 {
		t.Fatalf("expected sell price 600 on the result, got %+v", result.Price.SellPrice)
	}

	open, err := repo.GetOpenPriceVersion(ctx, item.ID)
	if err != nil {
		t.Fatalf("open version lookup after update: %v", err)
	}
	if open.ID != before.ID {
		t.Fatalf("expected the same open version, got %d", open.ID)
	}
	if open.SellPrice == nil || *open.SellPrice != 600 {
		t.Fatalf("expected stored sell price 600, got %+v", open.SellPrice)
	}
	if !open.Costs.Equal(costs) {
		t.Fatalf("costs must be untouched: %+v", open.Costs)
	}
}

// countingCache records snapshot cache traffic without storing anything.
type countingCache struct {
	invalidations int
}

func (c *countingCache) Get(context.Context, string) ([]domain.AvailableStock, bool, error) {
	return nil, false, nil
}

func (c *countingCache) Set(context.Context, string, []domain.AvailableStock, time.Duration) error {
	return nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.invalidations++
	return nil
}

func TestReconcileInvalidatesSnapshotOnPriceChange(t *testing.T) {
	repo := memory.NewSeeded()
	snapshots := &countingCache{}
	svc := New(repo, snapshots, zap.NewNop(), warehouseID)
	ctx := context.Background()

	costs := domain.CostComponents{FabricCost: 100}
	item := seedItem(t, svc, costs, 500)
	snapshots.invalidations = 0

	// No-op reconcile leaves the cache alone.
	sell := int64(500)
	if _, err := svc.Reconcile(ctx, domain.ReconcileRequest{
		CategoryID: item.CategoryID, ItemNameID: item.ItemNameID, ColorID: item.ColorID,
		Costs: costs, SellPrice: &sell,
	}); err != nil {
		t.Fatalf("unchanged reconcile: %v", err)
	}
	if snapshots.invalidations != 0 {
		t.Fatalf("unchanged reconcile must not invalidate, got %d", snapshots.invalidations)
	}

	// A sell-price update changes what cached snapshots show.
	sell = 600
	if _, err := svc.Reconcile(ctx, domain.ReconcileRequest{
		CategoryID: item.CategoryID, ItemNameID: item.ItemNameID, ColorID: item.ColorID,
		Costs: costs, SellPrice: &sell,
	}); err != nil {
		t.Fatalf("sell-price reconcile: %v", err)
	}
	if snapshots.invalidations != 1 {
		t.Fatalf("expected 1 invalidation after sell-price update, got %d", snapshots.invalidations)
	}

	// So does a new version from a cost change.
	costs.FabricCost = 120
	if _, err := svc.Reconcile(ctx, domain.ReconcileRequest{
		CategoryID: item.CategoryID, ItemNameID: item.ItemNameID, ColorID: item.ColorID,
		Costs: costs, SellPrice: &sell,
	}); err != nil {
		t.Fatalf("cost reconcile: %v", err)
	}
	if snapshots.invalidations != 2 {
		t.Fatalf("expected 2 invalidations after cost change, got %d", snapshots.invalidations)
	}
}

func TestReconcileReusesExistingItem(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	costs := domain.CostComponents{FabricCost: 100}
	item := seedItem(t, svc, costs, 500)

	sell := int64(500)
	result, err := svc.Reconcile(ctx, domain.ReconcileRequest{
		CategoryID: item.CategoryID, ItemNameID: item.ItemNameID, ColorID: item.ColorID,
		Costs: costs, SellPrice: &sell,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.ItemCreated {
		t.Fatalf("expected existing item to be reused")
	}
	if result.Item.ID != item.ID {
		t.Fatalf("expected item %d, got %d", item.ID, result.Item.ID)
	}
}

func TestRecordMovementSignNormalization(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 1}, 100)

	cases := []struct {
		kind     string
		quantity int64
		want     int64
	}{
		{domain.MovementStockIn, 5, 5},
		{domain.MovementStockIn, -5, 5},
		{domain.MovementStockOut, 3, -3},
		{domain.MovementStockOut, -3, -3},
		{domain.MovementTransferIn, -2, 2},
		{domain.MovementTransferOut, 2, -2},
		{domain.MovementAdjustment, -4, -4},
		{domain.MovementAdjustment, 4, 4},
	}
	for _, tc := range cases {
		movement, err := svc.RecordMovement(ctx, domain.MovementRequest{
			Item:     domain.ItemRef{ItemID: item.ID},
			StoreID:  warehouseID,
			Kind:     tc.kind,
			Quantity: tc.quantity,
		})
		if err != nil {
			t.Fatalf("%s %d: %v", tc.kind, tc.quantity, err)
		}
		if movement.Quantity != tc.want {
			t.Fatalf("%s %d: stored %d, want %d", tc.kind, tc.quantity, movement.Quantity, tc.want)
		}
	}
}

func TestRecordMovementRejectsZeroAndUnknownKind(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 1}, 100)

	_, err := svc.RecordMovement(ctx, domain.MovementRequest{
		Item: domain.ItemRef{ItemID: item.ID}, StoreID: warehouseID,
		Kind: domain.MovementStockIn, Quantity: 0,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}

	_, err = svc.RecordMovement(ctx, domain.MovementRequest{
		Item: domain.ItemRef{ItemID: item.ID}, StoreID: warehouseID,
		Kind: "restock", Quantity: 1,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for unknown kind, got %v", err)
	}
}

func TestRecordMovementResolvesTriple(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 1}, 100)

	movement, err := svc.RecordMovement(ctx, domain.MovementRequest{
		Item:     domain.ItemRef{CategoryID: item.CategoryID, ItemNameID: item.ItemNameID, ColorID: item.ColorID},
		StoreID:  warehouseID,
		Kind:     domain.MovementStockIn,
		Quantity: 2,
	})
	if err != nil {
		t.Fatalf("movement by triple: %v", err)
	}
	if movement.ItemID != item.ID {
		t.Fatalf("resolved item %d, want %d", movement.ItemID, item.ID)
	}

	_, err = svc.RecordMovement(ctx, domain.MovementRequest{
		Item:     domain.ItemRef{CategoryID: 99, ItemNameID: 99, ColorID: 99},
		StoreID:  warehouseID,
		Kind:     domain.MovementStockIn,
		Quantity: 2,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown triple, got %v", err)
	}
}

func TestCurrentQuantityDefaultsToZero(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 1}, 100)

	qty, err := svc.CurrentQuantity(ctx, domain.ItemRef{ItemID: item.ID}, bandaID, "M")
	if err != nil {
		t.Fatalf("current quantity: %v", err)
	}
	if qty != 0 {
		t.Fatalf("expected 0 for empty cell, got %d", qty)
	}
}

func TestTransferMovesQuantityBetweenStores(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 1}, 100)

	if _, err := svc.RecordMovement(ctx, domain.MovementRequest{
		Item: domain.ItemRef{ItemID: item.ID}, StoreID: warehouseID,
		Size: "M", Kind: domain.MovementStockIn, Quantity: 10,
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	err := svc.Transfer(ctx, domain.TransferRequest{
		ItemID: item.ID, Size: "M", FromStoreID: warehouseID, ToStoreID: bandaID, Quantity: 5,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	fromQty, _ := svc.CurrentQuantity(ctx, domain.ItemRef{ItemID: item.ID}, warehouseID, "M")
	toQty, _ := svc.CurrentQuantity(ctx, domain.ItemRef{ItemID: item.ID}, bandaID, "M")
	if fromQty != 5 || toQty != 5 {
		t.Fatalf("expected 5/5 after transfer, got %d/%d", fromQty, toQty)
	}
}

func TestTransferRejectsBadInput(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 1}, 100)

	err := svc.Transfer(ctx, domain.TransferRequest{
		ItemID: item.ID, FromStoreID: warehouseID, ToStoreID: bandaID, Quantity: 0,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}

	err = svc.Transfer(ctx, domain.TransferRequest{
		ItemID: item.ID, FromStoreID: warehouseID, ToStoreID: warehouseID, Quantity: 1,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for same-store transfer, got %v", err)
	}
}

// failingRepo fails InsertMovement for a chosen store, to exercise the
// non-atomic transfer's partial-failure path.
type failingRepo struct {
	store.Repository
	failStoreID int64
}

func (f *failingRepo) InsertMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.StoreID == f.failStoreID {
		return nil, fmt.Errorf("connection reset")
	}
	return f.Repository.InsertMovement(ctx, movement)
}

func TestTransferReportsPartialFailureWithoutRollback(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopSnapshotCache{}, zap.NewNop(), warehouseID)
	ctx := context.Background()
	item := seedItemWith(t, svc)

	if _, err := svc.RecordMovement(ctx, domain.MovementRequest{
		Item: domain.ItemRef{ItemID: item.ID}, StoreID: warehouseID,
		Kind: domain.MovementStockIn, Quantity: 10,
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	broken := New(&failingRepo{Repository: repo, failStoreID: bandaID}, cache.NoopSnapshotCache{}, zap.NewNop(), warehouseID)
	err := broken.Transfer(ctx, domain.TransferRequest{
		ItemID: item.ID, FromStoreID: warehouseID, ToStoreID: bandaID, Quantity: 4,
	})
	if err == nil {
		t.Fatalf("expected transfer to fail")
	}
	if !strings.Contains(err.Error(), "transfer_in failed after transfer_out") {
		t.Fatalf("unexpected error: %v", err)
	}

	// The out-write persisted: warehouse lost the units, destination got none.
	fromQty, _ := repo.GetStockLevel(ctx, item.ID, warehouseID, domain.DefaultSize)
	toQty, _ := repo.GetStockLevel(ctx, item.ID, bandaID, domain.DefaultSize)
	if fromQty != 6 || toQty != 0 {
		t.Fatalf("expected 6/0 after partial failure, got %d/%d", fromQty, toQty)
	}
}

func seedItemWith(t *testing.T, svc *Service) *domain.Item {
	t.Helper()
	return seedItem(t, svc, domain.CostComponents{FabricCost: 1}, 100)
}

func TestTransferAtomicRejectsInsufficientStock(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 1}, 100)

	if _, err := svc.RecordMovement(ctx, domain.MovementRequest{
		Item: domain.ItemRef{ItemID: item.ID}, StoreID: warehouseID,
		Kind: domain.MovementStockIn, Quantity: 3,
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	before := repo.MovementCount()

	err := svc.TransferAtomic(ctx, domain.TransferRequest{
		ItemID: item.ID, FromStoreID: warehouseID, ToStoreID: bandaID, Quantity: 5,
	})
	if err == nil {
		t.Fatalf("expected atomic transfer to fail on insufficient stock")
	}
	if repo.MovementCount() != before {
		t.Fatalf("expected no ledger rows from failed atomic transfer")
	}
}

func TestListAvailableStockAggregatesPositiveCells(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	item := seedItem(t, svc, domain.CostComponents{FabricCost: 1}, 750)

	for _, m := range []struct {
		storeID int64
		size    string
		qty     int64
	}{
		{warehouseID, "M", 4},
		{warehouseID, "L", 2},
		{bandaID, "M", 1},
	} {
		if _, err := svc.RecordMovement(ctx, domain.MovementRequest{
			Item: domain.ItemRef{ItemID: item.ID}, StoreID: m.storeID,
			Size: m.size, Kind: domain.MovementStockIn, Quantity: m.qty,
		}); err != nil {
			t.Fatalf("seed stock: %v", err)
		}
	}
	// Drain one cell to zero; it must drop out of the snapshot.
	if _, err := svc.RecordMovement(ctx, domain.MovementRequest{
		Item: domain.ItemRef{ItemID: item.ID}, StoreID: warehouseID,
		Size: "L", Kind: domain.MovementStockOut, Quantity: 2,
	}); err != nil {
		t.Fatalf("drain cell: %v", err)
	}

	wid := warehouseID
	rows, err := svc.ListAvailableStock(ctx, &wid)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 warehouse row, got %d: %+v", len(rows), rows)
	}
	row := rows[0]
	if row.Size != "M" || row.Quantity != 4 {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.SellPrice == nil || *row.SellPrice != 750 {
		t.Fatalf("expected sell price 750, got %+v", row.SellPrice)
	}
	if row.Category != "Dress" || row.ItemName != "Gown" || row.Color != "Red" {
		t.Fatalf("metadata not joined: %+v", row)
	}

	all, err := svc.ListAvailableStock(ctx, nil)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].Quantity != 5 {
		t.Fatalf("expected aggregated qty 5 across stores, got %+v", all)
	}
}
