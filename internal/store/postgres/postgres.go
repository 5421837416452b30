package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kalyn/backend/internal/domain"
	"kalyn/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, code
		FROM categories
		ORDER BY label
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Label, &c.Code); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) ListColors(ctx context.Context) ([]domain.Color, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label
		FROM colors
		ORDER BY label
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	colors := make([]domain.Color, 0, 32)
	for rows.Next() {
		var c domain.Color
		if err := rows.Scan(&c.ID, &c.Label); err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return colors, nil
}

func (s *Store) ListItemNames(ctx context.Context) ([]domain.ItemName, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label
		FROM item_names
		ORDER BY label
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]domain.ItemName, 0, 64)
	for rows.Next() {
		var n domain.ItemName
		if err := rows.Scan(&n.ID, &n.Label); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, is_warehouse, COALESCE(doc_folder_id,''), COALESCE(barcode_folder_id,'')
		FROM stores
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 8)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.IsWarehouse, &st.DocFolderID, &st.BarcodeFolderID); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

func (s *Store) GetStore(ctx context.Context, storeID int64) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_warehouse, COALESCE(doc_folder_id,''), COALESCE(barcode_folder_id,'')
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&st.ID, &st.Name, &st.IsWarehouse, &st.DocFolderID, &st.BarcodeFolderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) CategoryLabelExists(ctx context.Context, label string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE lower(label) = lower($1))`, label)
}

func (s *Store) CategoryCodeExists(ctx context.Context, code string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE lower(code) = lower($1))`, code)
}

func (s *Store) ColorLabelExists(ctx context.Context, label string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM colors WHERE lower(label) = lower($1))`, label)
}

func (s *Store) ItemNameLabelExists(ctx context.Context, label string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM item_names WHERE lower(label) = lower($1))`, label)
}

func (s *Store) exists(ctx context.Context, query string, arg string) (bool, error) {
	var found bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func (s *Store) CreateCategory(ctx context.Context, label string, code string) (*domain.Category, error) {
	if label == "" || code == "" {
		return nil, store.ErrInvalidInput
	}

	var created domain.Category
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (label, code)
		VALUES ($1, upper($2))
		RETURNING id, label, code
	`, label, code).Scan(&created.ID, &created.Label, &created.Code)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) CreateColor(ctx context.Context, label string) (*domain.Color, error) {
	if label == "" {
		return nil, store.ErrInvalidInput
	}

	var created domain.Color
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO colors (label)
		VALUES ($1)
		RETURNING id, label
	`, label).Scan(&created.ID, &created.Label)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) CreateItemName(ctx context.Context, label string) (*domain.ItemName, error) {
	if label == "" {
		return nil, store.ErrInvalidInput
	}

	var created domain.ItemName
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO item_names (label)
		VALUES ($1)
		RETURNING id, label
	`, label).Scan(&created.ID, &created.Label)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	return s.findItem(ctx, `
		SELECT id, sku, category_id, item_name_id, color_id, created_year
		FROM items
		WHERE id = $1
	`, itemID)
}

func (s *Store) FindItemByTriple(ctx context.Context, categoryID int64, itemNameID int64, colorID int64) (*domain.Item, error) {
	return s.findItem(ctx, `
		SELECT id, sku, category_id, item_name_id, color_id, created_year
		FROM items
		WHERE category_id = $1 AND item_name_id = $2 AND color_id = $3
	`, categoryID, itemNameID, colorID)
}

func (s *Store) findItem(ctx context.Context, query string, args ...any) (*domain.Item, error) {
	var item domain.Item
	var createdYear sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&item.ID, &item.SKU, &item.CategoryID, &item.ItemNameID, &item.ColorID, &createdYear,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if createdYear.Valid {
		year := int(createdYear.Int64)
		item.CreatedYear = &year
	}
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.CategoryID < 1 || item.ItemNameID < 1 || item.ColorID < 1 {
		return nil, store.ErrInvalidInput
	}

	// SKU is category code plus the zero-padded item id, assigned in one
	// statement so the sequence value and the SKU cannot drift.
	var created domain.Item
	var createdYear sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO items (category_id, item_name_id, color_id, created_year, sku)
			VALUES ($1, $2, $3, $4, '')
			RETURNING id, category_id, item_name_id, color_id, created_year
		)
		UPDATE items
		SET sku = (SELECT code FROM categories WHERE id = $1) || lpad(inserted.id::text, 4, '0')
		FROM inserted
		WHERE items.id = inserted.id
		RETURNING items.id, items.sku, items.category_id, items.item_name_id, items.color_id, items.created_year
	`, item.CategoryID, item.ItemNameID, item.ColorID, nullInt(item.CreatedYear)).Scan(
		&created.ID, &created.SKU, &created.CategoryID, &created.ItemNameID, &created.ColorID, &createdYear,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if createdYear.Valid {
		year := int(createdYear.Int64)
		created.CreatedYear = &year
	}
	return &created, nil
}

func (s *Store) GetOpenPriceVersion(ctx context.Context, itemID int64) (*domain.PriceVersion, error) {
	var version domain.PriceVersion
	var sellPrice sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, fabric_cost, sewing_cost, transport_cost, packing_cost,
			sell_price, valid_from
		FROM item_prices
		WHERE item_id = $1 AND valid_to IS NULL
		ORDER BY valid_from DESC
		LIMIT 1
	`, itemID).Scan(
		&version.ID,
		&version.ItemID,
		&version.Costs.FabricCost,
		&version.Costs.SewingCost,
		&version.Costs.TransportCost,
		&version.Costs.PackingCost,
		&sellPrice,
		&version.ValidFrom,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if sellPrice.Valid {
		price := sellPrice.Int64
		version.SellPrice = &price
	}
	version.ValidFrom = version.ValidFrom.UTC()
	return &version, nil
}

func (s *Store) ClosePriceVersion(ctx context.Context, versionID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE item_prices
		SET valid_to = $2
		WHERE id = $1 AND valid_to IS NULL
	`, versionID, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertPriceVersion(ctx context.Context, version domain.PriceVersion) (*domain.PriceVersion, error) {
	if version.ItemID < 1 {
		return nil, store.ErrInvalidInput
	}
	if version.ValidFrom.IsZero() {
		version.ValidFrom = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO item_prices (
			item_id, fabric_cost, sewing_cost, transport_cost, packing_cost,
			sell_price, valid_from, valid_to
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULL)
		RETURNING id
	`, version.ItemID, version.Costs.FabricCost, version.Costs.SewingCost,
		version.Costs.TransportCost, version.Costs.PackingCost,
		nullInt64(version.SellPrice), version.ValidFrom).Scan(&version.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	version.ValidTo = nil
	created := version
	return &created, nil
}

func (s *Store) UpdateSellPrice(ctx context.Context, versionID int64, sellPrice *int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE item_prices
		SET sell_price = $2
		WHERE id = $1 AND valid_to IS NULL
	`, versionID, nullInt64(sellPrice))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.Quantity == 0 {
		return nil, store.ErrInvalidInput
	}
	if movement.Size == "" {
		movement.Size = domain.DefaultSize
	}
	if movement.LoggedAt.IsZero() {
		movement.LoggedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO stock_movements (item_id, store_id, size, kind, quantity, logged_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, movement.ItemID, movement.StoreID, movement.Size, movement.Kind, movement.Quantity, movement.LoggedAt).Scan(&movement.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	created := movement
	return &created, nil
}

func (s *Store) GetStockLevel(ctx context.Context, itemID int64, storeID int64, size string) (int64, error) {
	var qty int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::bigint
		FROM stock_movements
		WHERE item_id = $1 AND store_id = $2 AND size = $3
	`, itemID, storeID, size).Scan(&qty)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

func (s *Store) ListAvailableStock(ctx context.Context, storeID *int64) ([]domain.AvailableStock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.sku, m.size,
			n.label, c.label, col.label,
			p.sell_price,
			SUM(m.quantity)::bigint AS qty
		FROM stock_movements m
		JOIN items i ON i.id = m.item_id
		JOIN item_names n ON n.id = i.item_name_id
		JOIN categories c ON c.id = i.category_id
		JOIN colors col ON col.id = i.color_id
		LEFT JOIN item_prices p ON p.item_id = i.id AND p.valid_to IS NULL
		WHERE ($1::bigint IS NULL OR m.store_id = $1)
		GROUP BY i.id, i.sku, m.size, n.label, c.label, col.label, p.sell_price
		HAVING SUM(m.quantity) > 0
		ORDER BY i.sku, m.size
	`, nullInt64(storeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AvailableStock, 0, 128)
	for rows.Next() {
		var row domain.AvailableStock
		var sellPrice sql.NullInt64
		if err := rows.Scan(&row.ItemID, &row.SKU, &row.Size, &row.ItemName, &row.Category, &row.Color, &sellPrice, &row.Quantity); err != nil {
			return nil, err
		}
		if sellPrice.Valid {
			price := sellPrice.Int64
			row.SellPrice = &price
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TransferStock runs the server-side transfer procedure, which writes both
// ledger rows in one transaction.
func (s *Store) TransferStock(ctx context.Context, itemNameID int64, categoryID int64, colorID int64, size string, fromStoreID int64, toStoreID int64, quantity int64) error {
	if quantity <= 0 {
		return store.ErrInvalidInput
	}
	if size == "" {
		size = domain.DefaultSize
	}
	_, err := s.db.ExecContext(ctx, `
		SELECT transfer_stock($1,$2,$3,$4,$5,$6,$7)
	`, itemNameID, categoryID, colorID, size, fromStoreID, toStoreID, quantity)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
