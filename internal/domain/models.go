package domain

import "time"

type Category struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Code  string `json:"code"`
}

type Color struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

type ItemName struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// Store is a physical location holding its own stock ledger. Exactly one
// store is the central warehouse. The folder ids point at the outlet's
// delivery-order and barcode-label folders in the document store.
type Store struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	IsWarehouse     bool   `json:"is_warehouse"`
	DocFolderID     string `json:"doc_folder_id,omitempty"`
	BarcodeFolderID string `json:"barcode_folder_id,omitempty"`
}

// Item is identified by the unique (CategoryID, ItemNameID, ColorID) triple.
// Created once per triple, never deleted. SKU is assigned by the store.
type Item struct {
	ID          int64  `json:"id"`
	SKU         string `json:"sku"`
	CategoryID  int64  `json:"category_id"`
	ItemNameID  int64  `json:"item_name_id"`
	ColorID     int64  `json:"color_id"`
	CreatedYear *int   `json:"created_year,omitempty"`
}

// CostComponents are the four cost parts tracked per price version.
type CostComponents struct {
	FabricCost    int64 `json:"fabric_cost"`
	SewingCost    int64 `json:"sewing_cost"`
	TransportCost int64 `json:"transport_cost"`
	PackingCost   int64 `json:"packing_cost"`
}

func (c CostComponents) Equal(other CostComponents) bool {
	return c.FabricCost == other.FabricCost &&
		c.SewingCost == other.SewingCost &&
		c.TransportCost == other.TransportCost &&
		c.PackingCost == other.PackingCost
}

// PriceVersion is one temporal version of an item's costs. The open version
// has ValidTo == nil; at most one version per item is open at a time.
type PriceVersion struct {
	ID        int64          `json:"id"`
	ItemID    int64          `json:"item_id"`
	Costs     CostComponents `json:"costs"`
	SellPrice *int64         `json:"sell_price,omitempty"`
	ValidFrom time.Time      `json:"valid_from"`
	ValidTo   *time.Time     `json:"valid_to,omitempty"`
}

func (p *PriceVersion) Open() bool {
	return p != nil && p.ValidTo == nil
}

// Movement kinds, as stored. Sign of quantity is derived from the kind,
// except adjustment which is a caller-supplied signed delta.
const (
	MovementStockIn     = "in_stock"
	MovementStockOut    = "out"
	MovementAdjustment  = "adjustment"
	MovementTransferIn  = "transfer_in"
	MovementTransferOut = "transfer_out"
)

const DefaultSize = "OS"

var Sizes = []string{"OS", "XS", "S", "M", "L", "XL", "XXL"}

// StockMovement is one append-only ledger row. Immutable once written.
type StockMovement struct {
	ID       int64     `json:"id"`
	ItemID   int64     `json:"item_id"`
	StoreID  int64     `json:"store_id"`
	Size     string    `json:"size"`
	Kind     string    `json:"movement_type"`
	Quantity int64     `json:"quantity"`
	LoggedAt time.Time `json:"logged_at"`
}

// ItemRef identifies an item either directly by id or by the master-data
// triple. ItemID wins when both are set.
type ItemRef struct {
	ItemID     int64 `json:"item_id,omitempty"`
	CategoryID int64 `json:"category_id,omitempty"`
	ItemNameID int64 `json:"item_name_id,omitempty"`
	ColorID    int64 `json:"color_id,omitempty"`
}

func (r ItemRef) Direct() bool { return r.ItemID > 0 }

// AvailableStock is one (sku, size) row of the warehouse snapshot, with the
// metadata the order builder needs.
type AvailableStock struct {
	ItemID    int64  `json:"item_id"`
	SKU       string `json:"sku"`
	Size      string `json:"size"`
	ItemName  string `json:"item_name"`
	Category  string `json:"category"`
	Color     string `json:"color"`
	SellPrice *int64 `json:"sell_price,omitempty"`
	Quantity  int64  `json:"quantity"`
}

// BarcodeArtifact is a stored barcode image made link-readable.
type BarcodeArtifact struct {
	FileID    string `json:"file_id"`
	PublicURL string `json:"public_url"`
}

type DeliveryOrderLine struct {
	Index            int    `json:"index"`
	Label            string `json:"label"`
	SKU              string `json:"sku"`
	ItemID           int64  `json:"item_id"`
	Color            string `json:"color"`
	Size             string `json:"size"`
	Quantity         int64  `json:"qty"`
	UnitPrice        int64  `json:"unit_price"`
	UnitPriceDisplay string `json:"unit_price_display"`
	LineTotal        int64  `json:"line_total"`
	LineTotalDisplay string `json:"line_total_display"`
}

// DeliveryOrder is a transient aggregate built per user action; it is never
// persisted and its lifetime ends when documents are generated.
type DeliveryOrder struct {
	Reference  string              `json:"reference"`
	OutletName string              `json:"outlet_name"`
	Lines      []DeliveryOrderLine `json:"lines"`
	GrandTotal int64               `json:"grand_total"`
	Barcodes   []BarcodeArtifact   `json:"barcodes,omitempty"`
}

// --- request/response types -------------------------------------------------

type CategoryCreateRequest struct {
	Label string `json:"label" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

type LabelCreateRequest struct {
	Label string `json:"label" validate:"required"`
}

type ReconcileRequest struct {
	CategoryID  int64          `json:"category_id" validate:"required,gt=0"`
	ItemNameID  int64          `json:"item_name_id" validate:"required,gt=0"`
	ColorID     int64          `json:"color_id" validate:"required,gt=0"`
	Costs       CostComponents `json:"costs"`
	SellPrice   *int64         `json:"sell_price,omitempty"`
	CreatedYear *int           `json:"created_year,omitempty"`
}

// ReconcileResult reports what the reconciler did. Item may be set even when
// the overall call failed (item created, price write failed).
type ReconcileResult struct {
	Item         *Item         `json:"item,omitempty"`
	Price        *PriceVersion `json:"price,omitempty"`
	ItemCreated  bool          `json:"item_created"`
	PriceChanged bool          `json:"price_changed"`
	Message      string        `json:"message"`
}

type MovementRequest struct {
	Item     ItemRef `json:"item"`
	StoreID  int64   `json:"store_id" validate:"required,gt=0"`
	Size     string  `json:"size"`
	Quantity int64   `json:"quantity"`
	Kind     string  `json:"movement_type" validate:"required"`
}

type TransferRequest struct {
	ItemID      int64  `json:"item_id" validate:"required,gt=0"`
	Size        string `json:"size"`
	FromStoreID int64  `json:"from_store_id" validate:"required,gt=0"`
	ToStoreID   int64  `json:"to_store_id" validate:"required,gt=0"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
}

// OrderSelection is one user-picked (sku, size, qty) row for an order.
type OrderSelection struct {
	SKU      string `json:"sku" validate:"required"`
	Size     string `json:"size"`
	Quantity int64  `json:"quantity" validate:"required"`
}

type DeliveryOrderRequest struct {
	ToStoreID  int64            `json:"to_store_id" validate:"required,gt=0"`
	Selections []OrderSelection `json:"selections" validate:"required,min=1"`
}

// LineCommitResult is the per-line outcome of committing an order. Lines are
// attempted independently; a failed line does not undo earlier ones.
type LineCommitResult struct {
	SKU      string `json:"sku"`
	Size     string `json:"size"`
	Quantity int64  `json:"qty"`
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
}

type DeliveryOrderResponse struct {
	Order       DeliveryOrder      `json:"order"`
	LineResults []LineCommitResult `json:"line_results"`
	Documents   *GeneratedDocs     `json:"documents,omitempty"`
}

// GeneratedDocs holds the ids of the filled document copies.
type GeneratedDocs struct {
	DeliveryOrderDocID string `json:"delivery_order_doc_id"`
	BarcodeDocID       string `json:"barcode_doc_id"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
