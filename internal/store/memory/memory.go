package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kalyn/backend/internal/domain"
	"kalyn/backend/internal/store"
)

type Store struct {
	mu sync.RWMutex

	categories map[int64]domain.Category
	colors     map[int64]domain.Color
	itemNames  map[int64]domain.ItemName
	stores     map[int64]domain.Store

	items         map[int64]domain.Item
	itemsByTriple map[tripleKey]int64

	priceVersions map[int64]domain.PriceVersion
	openPriceByItem map[int64]int64

	movements []domain.StockMovement
	// levels emulates the item_stock view the real store maintains.
	levels map[levelKey]int64

	usersByUsername map[string]domain.UserAccount

	nextID map[string]int64
}

type tripleKey struct {
	categoryID int64
	itemNameID int64
	colorID    int64
}

type levelKey struct {
	itemID  int64
	storeID int64
	size    string
}

// seedUsers builds the initial in-memory staff accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; unset
// variables fall back to hardcoded dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	stores := map[int64]domain.Store{
		1: {ID: 1, Name: "banda"},
		2: {ID: 2, Name: "karawang"},
		3: {ID: 3, Name: "purwakarta"},
		4: {ID: 4, Name: "gudang", IsWarehouse: true},
	}

	return &Store{
		categories:      make(map[int64]domain.Category),
		colors:          make(map[int64]domain.Color),
		itemNames:       make(map[int64]domain.ItemName),
		stores:          stores,
		items:           make(map[int64]domain.Item),
		itemsByTriple:   make(map[tripleKey]int64),
		priceVersions:   make(map[int64]domain.PriceVersion),
		openPriceByItem: make(map[int64]int64),
		movements:       make([]domain.StockMovement, 0, 128),
		levels:          make(map[levelKey]int64),
		usersByUsername: seedUsers(),
		nextID:          map[string]int64{"store": 4},
	}
}

func (s *Store) nextFor(table string) int64 {
	s.nextID[table]++
	return s.nextID[table]
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Category) int { return cmpString(a.Label, b.Label) })
	return out, nil
}

func (s *Store) ListColors(_ context.Context) ([]domain.Color, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Color, 0, len(s.colors))
	for _, c := range s.colors {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Color) int { return cmpString(a.Label, b.Label) })
	return out, nil
}

func (s *Store) ListItemNames(_ context.Context) ([]domain.ItemName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ItemName, 0, len(s.itemNames))
	for _, n := range s.itemNames {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b domain.ItemName) int { return cmpString(a.Label, b.Label) })
	return out, nil
}

func (s *Store) ListStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b domain.Store) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) GetStore(_ context.Context, storeID int64) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := st
	return &copied, nil
}

func (s *Store) CategoryLabelExists(_ context.Context, label string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.categories {
		if strings.EqualFold(c.Label, label) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CategoryCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.categories {
		if strings.EqualFold(c.Code, code) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ColorLabelExists(_ context.Context, label string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.colors {
		if strings.EqualFold(c.Label, label) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ItemNameLabelExists(_ context.Context, label string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.itemNames {
		if strings.EqualFold(n.Label, label) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateCategory(_ context.Context, label string, code string) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if label == "" || code == "" {
		return nil, store.ErrInvalidInput
	}
	for _, c := range s.categories {
		if strings.EqualFold(c.Label, label) || strings.EqualFold(c.Code, code) {
			return nil, store.ErrDuplicate
		}
	}

	created := domain.Category{ID: s.nextFor("category"), Label: label, Code: strings.ToUpper(code)}
	s.categories[created.ID] = created
	return &created, nil
}

func (s *Store) CreateColor(_ context.Context, label string) (*domain.Color, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if label == "" {
		return nil, store.ErrInvalidInput
	}
	for _, c := range s.colors {
		if strings.EqualFold(c.Label, label) {
			return nil, store.ErrDuplicate
		}
	}

	created := domain.Color{ID: s.nextFor("color"), Label: label}
	s.colors[created.ID] = created
	return &created, nil
}

func (s *Store) CreateItemName(_ context.Context, label string) (*domain.ItemName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if label == "" {
		return nil, store.ErrInvalidInput
	}
	for _, n := range s.itemNames {
		if strings.EqualFold(n.Label, label) {
			return nil, store.ErrDuplicate
		}
	}

	created := domain.ItemName{ID: s.nextFor("item_name"), Label: label}
	s.itemNames[created.ID] = created
	return &created, nil
}

func (s *Store) GetItem(_ context.Context, itemID int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) FindItemByTriple(_ context.Context, categoryID int64, itemNameID int64, colorID int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.itemsByTriple[tripleKey{categoryID, itemNameID, colorID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	item := s.items[id]
	return &item, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.CategoryID < 1 || item.ItemNameID < 1 || item.ColorID < 1 {
		return nil, store.ErrInvalidInput
	}
	key := tripleKey{item.CategoryID, item.ItemNameID, item.ColorID}
	if _, exists := s.itemsByTriple[key]; exists {
		return nil, store.ErrDuplicate
	}
	cat, ok := s.categories[item.CategoryID]
	if !ok {
		return nil, store.ErrNotFound
	}

	item.ID = s.nextFor("item")
	// SKU is store-assigned: category code plus zero-padded item id.
	item.SKU = fmt.Sprintf("%s%04d", cat.Code, item.ID)
	s.items[item.ID] = item
	s.itemsByTriple[key] = item.ID

	created := item
	return &created, nil
}

func (s *Store) GetOpenPriceVersion(_ context.Context, itemID int64) (*domain.PriceVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.openPriceByItem[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	version := s.priceVersions[id]
	return &version, nil
}

func (s *Store) ClosePriceVersion(_ context.Context, versionID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok := s.priceVersions[versionID]
	if !ok {
		return store.ErrNotFound
	}
	closedAt := at
	version.ValidTo = &closedAt
	s.priceVersions[versionID] = version
	if s.openPriceByItem[version.ItemID] == versionID {
		delete(s.openPriceByItem, version.ItemID)
	}
	return nil
}

func (s *Store) InsertPriceVersion(_ context.Context, version domain.PriceVersion) (*domain.PriceVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version.ItemID < 1 {
		return nil, store.ErrInvalidInput
	}
	if _, open := s.openPriceByItem[version.ItemID]; open {
		// The real store enforces a single open version per item.
		return nil, store.ErrDuplicate
	}

	version.ID = s.nextFor("price_version")
	if version.ValidFrom.IsZero() {
		version.ValidFrom = time.Now().UTC()
	}
	version.ValidTo = nil
	s.priceVersions[version.ID] = version
	s.openPriceByItem[version.ItemID] = version.ID

	created := version
	return &created, nil
}

func (s *Store) UpdateSellPrice(_ context.Context, versionID int64, sellPrice *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok := s.priceVersions[versionID]
	if !ok || version.ValidTo != nil {
		return store.ErrNotFound
	}
	version.SellPrice = sellPrice
	s.priceVersions[versionID] = version
	return nil
}

func (s *Store) InsertMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertMovementLocked(movement)
}

func (s *Store) insertMovementLocked(movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.Quantity == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.items[movement.ItemID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.stores[movement.StoreID]; !ok {
		return nil, store.ErrNotFound
	}
	if movement.Size == "" {
		movement.Size = domain.DefaultSize
	}

	movement.ID = s.nextFor("movement")
	if movement.LoggedAt.IsZero() {
		movement.LoggedAt = time.Now().UTC()
	}
	s.movements = append(s.movements, movement)
	s.levels[levelKey{movement.ItemID, movement.StoreID, movement.Size}] += movement.Quantity

	created := movement
	return &created, nil
}

func (s *Store) GetStockLevel(_ context.Context, itemID int64, storeID int64, size string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.levels[levelKey{itemID, storeID, size}], nil
}

func (s *Store) ListAvailableStock(_ context.Context, storeID *int64) ([]domain.AvailableStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type aggKey struct {
		sku  string
		size string
	}
	agg := make(map[aggKey]*domain.AvailableStock)

	for key, qty := range s.levels {
		if qty <= 0 {
			continue
		}
		if storeID != nil && key.storeID != *storeID {
			continue
		}
		item := s.items[key.itemID]

		k := aggKey{item.SKU, key.size}
		row, ok := agg[k]
		if !ok {
			row = &domain.AvailableStock{
				ItemID:   item.ID,
				SKU:      item.SKU,
				Size:     key.size,
				ItemName: s.itemNames[item.ItemNameID].Label,
				Category: s.categories[item.CategoryID].Label,
				Color:    s.colors[item.ColorID].Label,
			}
			if openID, open := s.openPriceByItem[item.ID]; open {
				row.SellPrice = s.priceVersions[openID].SellPrice
			}
			agg[k] = row
		}
		row.Quantity += qty
	}

	out := make([]domain.AvailableStock, 0, len(agg))
	for _, row := range agg {
		out = append(out, *row)
	}
	slices.SortFunc(out, func(a, b domain.AvailableStock) int {
		if a.SKU == b.SKU {
			return cmpString(a.Size, b.Size)
		}
		return cmpString(a.SKU, b.SKU)
	})
	return out, nil
}

// TransferStock applies the paired transfer writes under one lock, matching
// the all-or-nothing semantics of the server-side procedure.
func (s *Store) TransferStock(_ context.Context, itemNameID int64, categoryID int64, colorID int64, size string, fromStoreID int64, toStoreID int64, quantity int64) error {
	if quantity <= 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	itemID, ok := s.itemsByTriple[tripleKey{categoryID, itemNameID, colorID}]
	if !ok {
		return store.ErrNotFound
	}
	if size == "" {
		size = domain.DefaultSize
	}
	if s.levels[levelKey{itemID, fromStoreID, size}] < quantity {
		return fmt.Errorf("insufficient stock at store %d", fromStoreID)
	}

	if _, err := s.insertMovementLocked(domain.StockMovement{
		ItemID: itemID, StoreID: fromStoreID, Size: size,
		Kind: domain.MovementTransferOut, Quantity: -quantity,
	}); err != nil {
		return err
	}
	if _, err := s.insertMovementLocked(domain.StockMovement{
		ItemID: itemID, StoreID: toStoreID, Size: size,
		Kind: domain.MovementTransferIn, Quantity: quantity,
	}); err != nil {
		return err
	}
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int { return cmpString(a.Username, b.Username) })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// MovementCount reports the number of ledger rows written. Used by tests to
// assert the append-only ledger grew (or did not).
func (s *Store) MovementCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.movements)
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
