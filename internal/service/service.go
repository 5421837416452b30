package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"kalyn/backend/internal/cache"
	"kalyn/backend/internal/domain"
	"kalyn/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ValidationError is a user-facing rejection of master-data or movement
// input. Transport and store failures are never wrapped in it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	labelPattern    = regexp.MustCompile(`^[A-Za-z\s'-]{2,50}$`)
	codePattern     = regexp.MustCompile(`^[A-Za-z]{2}$`)
	itemNamePattern = regexp.MustCompile(`^[A-Za-z0-9\s'_-]{2,50}$`)
)

const snapshotTTL = 90 * time.Second

type Service struct {
	repo             store.Repository
	snapshots        cache.SnapshotCache
	logger           *zap.Logger
	warehouseStoreID int64
}

func New(repo store.Repository, snapshots cache.SnapshotCache, logger *zap.Logger, warehouseStoreID int64) *Service {
	if snapshots == nil {
		snapshots = cache.NoopSnapshotCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if warehouseStoreID < 1 {
		warehouseStoreID = 4
	}

	return &Service{
		repo:             repo,
		snapshots:        snapshots,
		logger:           logger,
		warehouseStoreID: warehouseStoreID,
	}
}

func (s *Service) WarehouseStoreID() int64 {
	return s.warehouseStoreID
}

// --- master data ------------------------------------------------------------

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) ListColors(ctx context.Context) ([]domain.Color, error) {
	return s.repo.ListColors(ctx)
}

func (s *Service) ListItemNames(ctx context.Context) ([]domain.ItemName, error) {
	return s.repo.ListItemNames(ctx)
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	return s.repo.ListStores(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (*domain.Category, error) {
	label := strings.TrimSpace(req.Label)
	code := strings.ToUpper(strings.TrimSpace(req.Code))

	if !labelPattern.MatchString(label) {
		return nil, &ValidationError{Field: "label", Reason: "must be 2-50 letters, spaces, apostrophes or hyphens"}
	}
	if !codePattern.MatchString(code) {
		return nil, &ValidationError{Field: "code", Reason: "must be exactly 2 letters"}
	}

	if exists, err := s.repo.CategoryLabelExists(ctx, label); err != nil {
		return nil, err
	} else if exists {
		return nil, &ValidationError{Field: "label", Reason: "category already exists"}
	}
	if exists, err := s.repo.CategoryCodeExists(ctx, code); err != nil {
		return nil, err
	} else if exists {
		return nil, &ValidationError{Field: "code", Reason: "code already in use"}
	}

	created, err := s.repo.CreateCategory(ctx, label, code)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, &ValidationError{Field: "label", Reason: "category already exists"}
		}
		return nil, err
	}

	s.logger.Info("category created",
		zap.Int64("category_id", created.ID),
		zap.String("label", created.Label),
		zap.String("code", created.Code))
	return created, nil
}

func (s *Service) CreateColor(ctx context.Context, req domain.LabelCreateRequest) (*domain.Color, error) {
	label := strings.TrimSpace(req.Label)
	if !labelPattern.MatchString(label) {
		return nil, &ValidationError{Field: "label", Reason: "must be 2-50 letters, spaces, apostrophes or hyphens"}
	}

	if exists, err := s.repo.ColorLabelExists(ctx, label); err != nil {
		return nil, err
	} else if exists {
		return nil, &ValidationError{Field: "label", Reason: "color already exists"}
	}

	created, err := s.repo.CreateColor(ctx, label)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, &ValidationError{Field: "label", Reason: "color already exists"}
		}
		return nil, err
	}

	s.logger.Info("color created", zap.Int64("color_id", created.ID), zap.String("label", created.Label))
	return created, nil
}

func (s *Service) CreateItemName(ctx context.Context, req domain.LabelCreateRequest) (*domain.ItemName, error) {
	label := strings.TrimSpace(req.Label)
	if !itemNamePattern.MatchString(label) {
		return nil, &ValidationError{Field: "label", Reason: "must be 2-50 letters, digits, spaces, apostrophes, underscores or hyphens"}
	}

	if exists, err := s.repo.ItemNameLabelExists(ctx, label); err != nil {
		return nil, err
	} else if exists {
		return nil, &ValidationError{Field: "label", Reason: "item name already exists"}
	}

	created, err := s.repo.CreateItemName(ctx, label)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, &ValidationError{Field: "label", Reason: "item name already exists"}
		}
		return nil, err
	}

	s.logger.Info("item name created", zap.Int64("item_name_id", created.ID), zap.String("label", created.Label))
	return created, nil
}

// --- reconciler -------------------------------------------------------------

// Reconcile finds or creates the item for the master-data triple and brings
// its price history up to date with the submitted cost components. A new open
// version is written only when a component actually changed. On partial
// failure the result still carries the item so the caller knows it exists.
func (s *Service) Reconcile(ctx context.Context, req domain.ReconcileRequest) (domain.ReconcileResult, error) {
	var result domain.ReconcileResult

	if req.CategoryID < 1 || req.ItemNameID < 1 || req.ColorID < 1 {
		return result, &ValidationError{Field: "item", Reason: "category, item name and color are required"}
	}
	if req.Costs.FabricCost < 0 || req.Costs.SewingCost < 0 || req.Costs.TransportCost < 0 || req.Costs.PackingCost < 0 {
		return result, &ValidationError{Field: "costs", Reason: "cost components must not be negative"}
	}

	item, err := s.repo.FindItemByTriple(ctx, req.CategoryID, req.ItemNameID, req.ColorID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		created, createErr := s.repo.CreateItem(ctx, domain.Item{
			CategoryID:  req.CategoryID,
			ItemNameID:  req.ItemNameID,
			ColorID:     req.ColorID,
			CreatedYear: req.CreatedYear,
		})
		if createErr != nil {
			if errors.Is(createErr, store.ErrDuplicate) {
				// Lost a race with a concurrent reconcile; the item exists now.
				item, err = s.repo.FindItemByTriple(ctx, req.CategoryID, req.ItemNameID, req.ColorID)
				if err != nil {
					return result, fmt.Errorf("item lookup after duplicate create: %w", err)
				}
			} else {
				return result, fmt.Errorf("item create: %w", createErr)
			}
		} else {
			item = created
			result.ItemCreated = true
		}
	default:
		return result, fmt.Errorf("item lookup: %w", err)
	}
	result.Item = item

	now := time.Now().UTC()
	open, err := s.repo.GetOpenPriceVersion(ctx, item.ID)
	switch {
	case err == nil:
		if open.Costs.Equal(req.Costs) {
			// Versions track the cost components only. A sell-price change
			// overwrites the open version in place instead of opening a new
			// one.
			if sellPriceEqual(open.SellPrice, req.SellPrice) {
				result.Price = open
				result.Message = "unchanged"
				return result, nil
			}
			if updateErr := s.repo.UpdateSellPrice(ctx, open.ID, req.SellPrice); updateErr != nil {
				return result, fmt.Errorf("sell price update: %w", updateErr)
			}
			open.SellPrice = req.SellPrice
			result.Price = open
			result.Message = "sell price updated"
			s.invalidateSnapshots(ctx)
			return result, nil
		}
		if closeErr := s.repo.ClosePriceVersion(ctx, open.ID, now); closeErr != nil {
			return result, fmt.Errorf("price close: %w", closeErr)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return result, fmt.Errorf("price lookup: %w", err)
	}

	inserted, err := s.repo.InsertPriceVersion(ctx, domain.PriceVersion{
		ItemID:    item.ID,
		Costs:     req.Costs,
		SellPrice: req.SellPrice,
		ValidFrom: now,
	})
	if err != nil {
		return result, fmt.Errorf("price insert: %w", err)
	}

	result.Price = inserted
	result.PriceChanged = true
	if result.ItemCreated {
		result.Message = "created"
	} else {
		result.Message = "updated"
	}
	s.invalidateSnapshots(ctx)

	s.logger.Info("item reconciled",
		zap.Int64("item_id", item.ID),
		zap.String("sku", item.SKU),
		zap.Bool("item_created", result.ItemCreated),
		zap.Bool("price_changed", result.PriceChanged))
	return result, nil
}

// invalidateSnapshots drops cached stock snapshots after any write that
// changes what they show: ledger rows or the open sell price.
func (s *Service) invalidateSnapshots(ctx context.Context) {
	if err := s.snapshots.Invalidate(ctx); err != nil {
		s.logger.Warn("snapshot cache invalidation failed", zap.Error(err))
	}
}

func sellPriceEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// --- stock ledger -----------------------------------------------------------

func movementKindValid(kind string) bool {
	switch kind {
	case domain.MovementStockIn, domain.MovementStockOut, domain.MovementAdjustment,
		domain.MovementTransferIn, domain.MovementTransferOut:
		return true
	}
	return false
}

// normalizeQuantity derives the stored sign from the movement kind. Outbound
// kinds always subtract, inbound kinds always add; adjustment keeps the
// caller's signed delta.
func normalizeQuantity(kind string, quantity int64) int64 {
	abs := quantity
	if abs < 0 {
		abs = -abs
	}
	switch kind {
	case domain.MovementStockOut, domain.MovementTransferOut:
		return -abs
	case domain.MovementStockIn, domain.MovementTransferIn:
		return abs
	default:
		return quantity
	}
}

func (s *Service) resolveItem(ctx context.Context, ref domain.ItemRef) (*domain.Item, error) {
	if ref.Direct() {
		return s.repo.GetItem(ctx, ref.ItemID)
	}
	if ref.CategoryID < 1 || ref.ItemNameID < 1 || ref.ColorID < 1 {
		return nil, &ValidationError{Field: "item", Reason: "item id or full category/name/color triple required"}
	}
	return s.repo.FindItemByTriple(ctx, ref.CategoryID, ref.ItemNameID, ref.ColorID)
}

// RecordMovement appends one signed ledger row. The row is immutable once
// written; corrections are new adjustment rows.
func (s *Service) RecordMovement(ctx context.Context, req domain.MovementRequest) (*domain.StockMovement, error) {
	if !movementKindValid(req.Kind) {
		return nil, &ValidationError{Field: "movement_type", Reason: "unknown movement type " + req.Kind}
	}
	if req.Quantity == 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "quantity must not be zero"}
	}

	item, err := s.resolveItem(ctx, req.Item)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetStore(ctx, req.StoreID); err != nil {
		return nil, err
	}

	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = domain.DefaultSize
	}

	movement, err := s.repo.InsertMovement(ctx, domain.StockMovement{
		ItemID:   item.ID,
		StoreID:  req.StoreID,
		Size:     size,
		Kind:     req.Kind,
		Quantity: normalizeQuantity(req.Kind, req.Quantity),
		LoggedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSnapshots(ctx)

	s.logger.Info("stock movement recorded",
		zap.Int64("item_id", item.ID),
		zap.Int64("store_id", req.StoreID),
		zap.String("size", size),
		zap.String("kind", req.Kind),
		zap.Int64("quantity", movement.Quantity))
	return movement, nil
}

// CurrentQuantity reads the running aggregate for one (item, store, size)
// cell. A cell with no ledger rows is 0.
func (s *Service) CurrentQuantity(ctx context.Context, ref domain.ItemRef, storeID int64, size string) (int64, error) {
	item, err := s.resolveItem(ctx, ref)
	if err != nil {
		return 0, err
	}
	if size == "" {
		size = domain.DefaultSize
	}
	return s.repo.GetStockLevel(ctx, item.ID, storeID, size)
}

// --- transfer ---------------------------------------------------------------

// Transfer moves stock between stores as two ledger writes: transfer_out at
// the source, then transfer_in at the destination. There is no rollback; if
// the second write fails the ledgers disagree until corrected by adjustment.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) error {
	if req.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "quantity must be positive"}
	}
	if req.FromStoreID == req.ToStoreID {
		return &ValidationError{Field: "to_store_id", Reason: "source and destination must differ"}
	}

	item, err := s.repo.GetItem(ctx, req.ItemID)
	if err != nil {
		return err
	}
	if _, err := s.repo.GetStore(ctx, req.FromStoreID); err != nil {
		return err
	}
	if _, err := s.repo.GetStore(ctx, req.ToStoreID); err != nil {
		return err
	}

	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = domain.DefaultSize
	}
	now := time.Now().UTC()

	if _, err := s.repo.InsertMovement(ctx, domain.StockMovement{
		ItemID:   item.ID,
		StoreID:  req.FromStoreID,
		Size:     size,
		Kind:     domain.MovementTransferOut,
		Quantity: -req.Quantity,
		LoggedAt: now,
	}); err != nil {
		return fmt.Errorf("transfer_out: %w", err)
	}

	if _, err := s.repo.InsertMovement(ctx, domain.StockMovement{
		ItemID:   item.ID,
		StoreID:  req.ToStoreID,
		Size:     size,
		Kind:     domain.MovementTransferIn,
		Quantity: req.Quantity,
		LoggedAt: now,
	}); err != nil {
		s.logger.Error("transfer_in failed after transfer_out",
			zap.Int64("item_id", item.ID),
			zap.Int64("from_store_id", req.FromStoreID),
			zap.Int64("to_store_id", req.ToStoreID),
			zap.Int64("quantity", req.Quantity),
			zap.Error(err))
		return fmt.Errorf("transfer_in failed after transfer_out: %w", err)
	}

	s.invalidateSnapshots(ctx)

	s.logger.Info("stock transferred",
		zap.Int64("item_id", item.ID),
		zap.Int64("from_store_id", req.FromStoreID),
		zap.Int64("to_store_id", req.ToStoreID),
		zap.String("size", size),
		zap.Int64("quantity", req.Quantity))
	return nil
}

// TransferAtomic uses the store's server-side transfer procedure when the
// store offers one, falling back to the two-write path otherwise.
func (s *Service) TransferAtomic(ctx context.Context, req domain.TransferRequest) error {
	atomic, ok := s.repo.(store.AtomicTransferrer)
	if !ok {
		return s.Transfer(ctx, req)
	}
	if req.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "quantity must be positive"}
	}
	if req.FromStoreID == req.ToStoreID {
		return &ValidationError{Field: "to_store_id", Reason: "source and destination must differ"}
	}

	item, err := s.repo.GetItem(ctx, req.ItemID)
	if err != nil {
		return err
	}
	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = domain.DefaultSize
	}

	if err := atomic.TransferStock(ctx, item.ItemNameID, item.CategoryID, item.ColorID, size, req.FromStoreID, req.ToStoreID, req.Quantity); err != nil {
		return fmt.Errorf("atomic transfer: %w", err)
	}

	s.invalidateSnapshots(ctx)
	return nil
}

// --- snapshot ---------------------------------------------------------------

func snapshotKey(storeID *int64) string {
	if storeID == nil {
		return "all"
	}
	return fmt.Sprintf("store:%d", *storeID)
}

// ListAvailableStock aggregates positive-quantity (sku, size) rows with the
// joined metadata the order builder shows. Results are cached briefly; any
// stock write or sell-price change invalidates the cache.
func (s *Service) ListAvailableStock(ctx context.Context, storeID *int64) ([]domain.AvailableStock, error) {
	key := snapshotKey(storeID)
	if rows, ok, err := s.snapshots.Get(ctx, key); err != nil {
		s.logger.Warn("snapshot cache read failed", zap.Error(err))
	} else if ok {
		return rows, nil
	}

	rows, err := s.repo.ListAvailableStock(ctx, storeID)
	if err != nil {
		return nil, err
	}

	if err := s.snapshots.Set(ctx, key, rows, snapshotTTL); err != nil {
		s.logger.Warn("snapshot cache write failed", zap.Error(err))
	}
	return rows, nil
}
