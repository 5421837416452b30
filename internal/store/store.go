package store

import (
	"context"
	"errors"
	"time"

	"kalyn/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("already exists")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository is the narrow contract this system needs from the backing
// relational store: filtered selects, inserts, a few updates-by-filter, and
// reads of the materialized stock aggregate. Stock movements are append-only;
// no update or delete exists for them.
type Repository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListColors(ctx context.Context) ([]domain.Color, error)
	ListItemNames(ctx context.Context) ([]domain.ItemName, error)
	ListStores(ctx context.Context) ([]domain.Store, error)
	GetStore(ctx context.Context, storeID int64) (*domain.Store, error)

	// Existence checks are case-insensitive, matching the uniqueness rule
	// on the lookup tables.
	CategoryLabelExists(ctx context.Context, label string) (bool, error)
	CategoryCodeExists(ctx context.Context, code string) (bool, error)
	ColorLabelExists(ctx context.Context, label string) (bool, error)
	ItemNameLabelExists(ctx context.Context, label string) (bool, error)

	CreateCategory(ctx context.Context, label string, code string) (*domain.Category, error)
	CreateColor(ctx context.Context, label string) (*domain.Color, error)
	CreateItemName(ctx context.Context, label string) (*domain.ItemName, error)

	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
	FindItemByTriple(ctx context.Context, categoryID int64, itemNameID int64, colorID int64) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)

	GetOpenPriceVersion(ctx context.Context, itemID int64) (*domain.PriceVersion, error)
	ClosePriceVersion(ctx context.Context, versionID int64, at time.Time) error
	InsertPriceVersion(ctx context.Context, version domain.PriceVersion) (*domain.PriceVersion, error)
	// UpdateSellPrice overwrites the sell price on an open version. Cost
	// components are immutable once written; only a cost change opens a new
	// version.
	UpdateSellPrice(ctx context.Context, versionID int64, sellPrice *int64) error

	InsertMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
	// GetStockLevel reads the per (item, store, size) aggregate. Absence of
	// any rows means quantity 0, not an error.
	GetStockLevel(ctx context.Context, itemID int64, storeID int64, size string) (int64, error)
	// ListAvailableStock returns positive-quantity rows joined with item
	// metadata and the current sell price, optionally filtered by store.
	ListAvailableStock(ctx context.Context, storeID *int64) ([]domain.AvailableStock, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AtomicTransferrer is an optional capability: a store that can run the
// paired transfer writes as one server-side transaction. Preferred over the
// two-write ledger path when available.
type AtomicTransferrer interface {
	TransferStock(ctx context.Context, itemNameID int64, categoryID int64, colorID int64, size string, fromStoreID int64, toStoreID int64, quantity int64) error
}
