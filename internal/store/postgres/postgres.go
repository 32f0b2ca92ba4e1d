package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/store"
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

func (s *Store) ListItems(ctx context.Context, tenantID string) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, sku, COALESCE(barcode,''), unit_cost_cents, unit_price_cents, stock, active, created_at
		FROM items
		WHERE active = true AND ($1 = '' OR tenant_id = $1)
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Name, &item.SKU, &item.Barcode, &item.UnitCostCents, &item.UnitPriceCents, &item.Stock, &item.Active, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.TenantID == "" || item.Name == "" || item.SKU == "" || item.UnitPriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	if item.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	item.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, tenant_id, name, sku, barcode, unit_cost_cents, unit_price_cents, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, item.ID, item.TenantID, item.Name, item.SKU, nullIfEmpty(item.Barcode), item.UnitCostCents, item.UnitPriceCents, item.Stock, item.Active, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetItemByID(ctx context.Context, tenantID string, itemID string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, sku, COALESCE(barcode,''), unit_cost_cents, unit_price_cents, stock, active, created_at
		FROM items
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
	`, itemID, tenantID).Scan(&item.ID, &item.TenantID, &item.Name, &item.SKU, &item.Barcode, &item.UnitCostCents, &item.UnitPriceCents, &item.Stock, &item.Active, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, tenantID string, itemIDs []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, sku, COALESCE(barcode,''), unit_cost_cents, unit_price_cents, stock, active, created_at
		FROM items
		WHERE active = true AND id = ANY($1) AND ($2 = '' OR tenant_id = $2)
	`, itemIDs, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Name, &item.SKU, &item.Barcode, &item.UnitCostCents, &item.UnitPriceCents, &item.Stock, &item.Active, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) AdjustStock(ctx context.Context, tenantID string, itemID string, delta int, movement domain.StockMovement) (*domain.Item, error) {
	if delta == 0 {
		return nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var item domain.Item
	query := `
		UPDATE items
		SET stock = stock + $1, updated_at = now()
		WHERE id = $2 AND ($3 = '' OR tenant_id = $3)
	`
	if delta < 0 {
		query += ` AND stock + $1 >= 0`
	}
	query += `
		RETURNING id, tenant_id, name, sku, COALESCE(barcode,''), unit_cost_cents, unit_price_cents, stock, active, created_at
	`
	err = pgTx.QueryRowContext(ctx, query, delta, itemID, tenantID).Scan(
		&item.ID, &item.TenantID, &item.Name, &item.SKU, &item.Barcode,
		&item.UnitCostCents, &item.UnitPriceCents, &item.Stock, &item.Active, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the item does not exist in this tenant or the decrement
			// would push stock below zero. Distinguish for the caller.
			var exists bool
			checkErr := pgTx.QueryRowContext(ctx, `
				SELECT true FROM items WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
			`, itemID, tenantID).Scan(&exists)
			if checkErr == nil && exists {
				return nil, store.ErrInsufficientStock
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := insertStockMovement(ctx, pgTx, item.TenantID, itemID, delta, movement); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) ListStockMovements(ctx context.Context, tenantID string, itemID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, item_id, delta, kind, COALESCE(ref_id,''), COALESCE(note,''), created_at
		FROM stock_movements
		WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR item_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, tenantID, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var mv domain.StockMovement
		if err := rows.Scan(&mv.ID, &mv.TenantID, &mv.ItemID, &mv.Delta, &mv.Kind, &mv.RefID, &mv.Note, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.CreatedAt = mv.CreatedAt.UTC()
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateLocation(ctx context.Context, loc domain.Location) (*domain.Location, error) {
	loc.Name = strings.TrimSpace(loc.Name)
	if loc.TenantID == "" || loc.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = time.Now().UTC()
	}

	loc.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, tenant_id, name, address, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, loc.ID, loc.TenantID, loc.Name, nullIfEmpty(loc.Address), loc.Active, loc.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := loc
	return &created, nil
}

func (s *Store) GetLocationByID(ctx context.Context, tenantID string, locationID string) (*domain.Location, error) {
	var loc domain.Location
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(address,''), active, created_at
		FROM locations
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
	`, locationID, tenantID).Scan(&loc.ID, &loc.TenantID, &loc.Name, &loc.Address, &loc.Active, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	loc.CreatedAt = loc.CreatedAt.UTC()
	return &loc, nil
}

func (s *Store) ListLocations(ctx context.Context, tenantID string) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(address,''), active, created_at
		FROM locations
		WHERE active = true AND ($1 = '' OR tenant_id = $1)
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]domain.Location, 0, 16)
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.ID, &loc.TenantID, &loc.Name, &loc.Address, &loc.Active, &loc.CreatedAt); err != nil {
			return nil, err
		}
		loc.CreatedAt = loc.CreatedAt.UTC()
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locations, nil
}

func (s *Store) CreateSale(ctx context.Context, tx domain.Transaction, allowOversell bool) (*domain.Transaction, error) {
	if tx.TenantID == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}

	tx.InvoiceNumber, err = nextSequence(ctx, pgTx, tx.TenantID, "invoice")
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, tenant_id, invoice_number, employee_id, client_id,
			subtotal_cents, tax_cents, tip_cents, total_cents,
			payment_method, cash_amount_cents, card_amount_cents, card_last4,
			status, idempotency_key, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, tx.ID, tx.TenantID, tx.InvoiceNumber, tx.EmployeeID, nullIfEmpty(tx.ClientID),
		tx.SubtotalCents, tx.TaxCents, tx.TipCents, tx.TotalCents,
		tx.PaymentMethod, tx.CashAmountCents, tx.CardAmountCents, nullIfEmpty(tx.CardLast4),
		tx.Status, nullIfEmpty(tx.IdempotencyKey), tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && tx.IdempotencyKey != "" {
			_ = pgTx.Rollback()
			existing, lookupErr := s.findSale(ctx, "idempotency_key", tx.IdempotencyKey, tx.TenantID)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	for _, line := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, kind, service_id, product_id, name, qty, unit_price_cents, discount_percent, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, tx.ID, line.Kind, nullIfEmpty(line.ServiceID), nullIfEmpty(line.ProductID), line.Name, line.Qty, line.UnitPriceCents, line.DiscountPercent, line.TotalCents)
		if err != nil {
			return nil, err
		}

		if line.Kind != domain.LineItemKindProduct || domain.AdHocProductID(line.ProductID) {
			continue
		}

		query := `
			UPDATE items
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2 AND tenant_id = $3 AND active = true
		`
		if !allowOversell {
			query += ` AND stock >= $1`
		}
		res, err := pgTx.ExecContext(ctx, query, line.Qty, line.ProductID, tx.TenantID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			var exists bool
			checkErr := pgTx.QueryRowContext(ctx, `
				SELECT true FROM items WHERE id = $1 AND tenant_id = $2 AND active = true
			`, line.ProductID, tx.TenantID).Scan(&exists)
			if checkErr == nil && exists {
				return nil, store.ErrInsufficientStock
			}
			return nil, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidRequest, line.ProductID)
		}

		if err := insertStockMovement(ctx, pgTx, tx.TenantID, line.ProductID, -line.Qty, domain.StockMovement{
			Kind:  domain.MovementSale,
			RefID: tx.ID,
		}); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &tx, nil
}

func (s *Store) FindSaleByID(ctx context.Context, tenantID string, id string) (*domain.Transaction, error) {
	return s.findSale(ctx, "id", id, tenantID)
}

func (s *Store) findSale(ctx context.Context, column string, value string, tenantID string) (*domain.Transaction, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var tx domain.Transaction
	var clientID sql.NullString
	var cardLast4 sql.NullString
	var idemKey sql.NullString
	var voidReason sql.NullString
	var voidedAt sql.NullTime

	query := fmt.Sprintf(`
		SELECT id, tenant_id, invoice_number, employee_id, client_id,
			subtotal_cents, tax_cents, tip_cents, total_cents,
			payment_method, cash_amount_cents, card_amount_cents, card_last4,
			status, idempotency_key, void_reason, voided_at, created_at
		FROM transactions
		WHERE %s = $1 AND ($2 = '' OR tenant_id = $2)
	`, column)

	err := s.db.QueryRowContext(ctx, query, value, tenantID).Scan(
		&tx.ID,
		&tx.TenantID,
		&tx.InvoiceNumber,
		&tx.EmployeeID,
		&clientID,
		&tx.SubtotalCents,
		&tx.TaxCents,
		&tx.TipCents,
		&tx.TotalCents,
		&tx.PaymentMethod,
		&tx.CashAmountCents,
		&tx.CardAmountCents,
		&cardLast4,
		&tx.Status,
		&idemKey,
		&voidReason,
		&voidedAt,
		&tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if clientID.Valid {
		tx.ClientID = clientID.String
	}
	if cardLast4.Valid {
		tx.CardLast4 = cardLast4.String
	}
	if idemKey.Valid {
		tx.IdempotencyKey = idemKey.String
	}
	if voidReason.Valid {
		tx.VoidReason = voidReason.String
	}
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		tx.VoidedAt = &at
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	items, err := s.loadSaleItems(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	tx.Items = items

	return &tx, nil
}

func (s *Store) loadSaleItems(ctx context.Context, transactionID string) ([]domain.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COALESCE(service_id,''), COALESCE(product_id,''), name, qty, unit_price_cents, discount_percent, total_cents
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0, 8)
	for rows.Next() {
		var line domain.LineItem
		if err := rows.Scan(&line.Kind, &line.ServiceID, &line.ProductID, &line.Name, &line.Qty, &line.UnitPriceCents, &line.DiscountPercent, &line.TotalCents); err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountDailySequence(ctx context.Context, tenantID string, at time.Time) (int, error) {
	dayStart := nowDateUTC(at)
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transactions
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3 AND created_at <= $4
	`, tenantID, dayStart, dayEnd, at).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) SearchSales(ctx context.Context, tenantID string, filter store.SaleFilter) ([]domain.Transaction, error) {
	if filter.Limit < 1 {
		filter.Limit = 100
	}

	conditions := []string{"($1 = '' OR tenant_id = $1)"}
	args := []any{tenantID}
	next := 2
	addArg := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, next))
		args = append(args, val)
		next++
	}
	if filter.From != nil {
		addArg("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		addArg("created_at <= $%d", *filter.To)
	}
	if filter.ClientID != "" {
		addArg("client_id = $%d", filter.ClientID)
	}
	if filter.MinTotalCents != nil {
		addArg("total_cents >= $%d", *filter.MinTotalCents)
	}
	if filter.MaxTotalCents != nil {
		addArg("total_cents <= $%d", *filter.MaxTotalCents)
	}
	if filter.PaymentMethod != "" {
		addArg("payment_method = $%d", filter.PaymentMethod)
	}
	if filter.Status != "" {
		addArg("status = $%d", filter.Status)
	}
	if filter.InvoicePattern != "" {
		addArg("invoice_number::text LIKE '%%' || $%d || '%%'", filter.InvoicePattern)
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(`
		SELECT id, tenant_id, invoice_number, employee_id, COALESCE(client_id,''),
			subtotal_cents, tax_cents, tip_cents, total_cents,
			payment_method, cash_amount_cents, card_amount_cents, COALESCE(card_last4,''),
			status, COALESCE(void_reason,''), voided_at, created_at
		FROM transactions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, strings.Join(conditions, " AND "), next)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Transaction, 0, filter.Limit)
	for rows.Next() {
		var tx domain.Transaction
		var voidedAt sql.NullTime
		if err := rows.Scan(&tx.ID, &tx.TenantID, &tx.InvoiceNumber, &tx.EmployeeID, &tx.ClientID,
			&tx.SubtotalCents, &tx.TaxCents, &tx.TipCents, &tx.TotalCents,
			&tx.PaymentMethod, &tx.CashAmountCents, &tx.CardAmountCents, &tx.CardLast4,
			&tx.Status, &tx.VoidReason, &voidedAt, &tx.CreatedAt); err != nil {
			return nil, err
		}
		if voidedAt.Valid {
			at := voidedAt.Time.UTC()
			tx.VoidedAt = &at
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		sales = append(sales, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		items, err := s.loadSaleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}

	return sales, nil
}

func (s *Store) VoidSale(ctx context.Context, tenantID string, id string, reason string, at time.Time) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var txID, txTenant, status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, tenant_id, status
		FROM transactions
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
		FOR UPDATE
	`, id, tenantID).Scan(&txID, &txTenant, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.TxStatusCompleted {
		return nil, &store.WrongStatusError{Current: status, Expected: []string{domain.TxStatusCompleted}}
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT kind, COALESCE(product_id,''), qty
		FROM transaction_items
		WHERE transaction_id = $1
	`, txID)
	if err != nil {
		return nil, err
	}
	type restock struct {
		productID string
		qty       int
	}
	restocks := make([]restock, 0, 8)
	for itemRows.Next() {
		var kind, productID string
		var qty int
		if err := itemRows.Scan(&kind, &productID, &qty); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		if kind != domain.LineItemKindProduct || domain.AdHocProductID(productID) {
			continue
		}
		restocks = append(restocks, restock{productID: productID, qty: qty})
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	for _, r := range restocks {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE items SET stock = stock + $1, updated_at = now()
			WHERE id = $2 AND tenant_id = $3
		`, r.qty, r.productID, txTenant)
		if err != nil {
			return nil, err
		}
		if err := insertStockMovement(ctx, pgTx, txTenant, r.productID, r.qty, domain.StockMovement{
			Kind:  domain.MovementVoid,
			RefID: txID,
			Note:  reason,
		}); err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, void_reason = $3, voided_at = $4
		WHERE id = $1
	`, txID, domain.TxStatusVoided, reason, at)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.findSale(ctx, "id", txID, tenantID)
}

func (s *Store) FindIdempotencyRecord(ctx context.Context, tenantID string, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT key, tenant_id, response_json, created_at
		FROM idempotency_records
		WHERE tenant_id = $1 AND key = $2
	`, tenantID, key).Scan(&rec.Key, &rec.TenantID, &rec.ResponseJSON, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func (s *Store) CreateIdempotencyRecord(ctx context.Context, rec domain.IdempotencyRecord) error {
	if rec.Key == "" || rec.TenantID == "" {
		return store.ErrInvalidRequest
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (tenant_id, key, response_json, created_at)
		VALUES ($1,$2,$3,$4)
	`, rec.TenantID, rec.Key, rec.ResponseJSON, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (s *Store) CreateTransfer(ctx context.Context, transfer domain.InventoryTransfer) (*domain.InventoryTransfer, error) {
	if transfer.TenantID == "" || len(transfer.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if transfer.ID == "" {
		transfer.ID = uuid.NewString()
	}
	if transfer.RequestedAt.IsZero() {
		transfer.RequestedAt = time.Now().UTC()
	}
	transfer.Status = domain.TransferStatusPending

	seq, err := nextSequence(ctx, pgTx, transfer.TenantID, "transfer")
	if err != nil {
		return nil, err
	}
	transfer.TransferNumber = fmt.Sprintf("TR-%04d", seq)

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transfers (
			id, tenant_id, transfer_number, from_location_id, to_location_id,
			status, reason, notes, total_items, total_value_cents,
			requested_by, requested_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, transfer.ID, transfer.TenantID, transfer.TransferNumber, transfer.FromLocationID, transfer.ToLocationID,
		transfer.Status, nullIfEmpty(transfer.Reason), nullIfEmpty(transfer.Notes), transfer.TotalItems, transfer.TotalValueCents,
		transfer.RequestedBy, transfer.RequestedAt)
	if err != nil {
		return nil, err
	}

	for _, line := range transfer.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transfer_items (transfer_id, item_id, name, sku, barcode, unit_cost_cents, qty_sent)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, transfer.ID, line.ItemID, line.Name, line.SKU, nullIfEmpty(line.Barcode), line.UnitCostCents, line.QtySent)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &transfer, nil
}

func (s *Store) GetTransferByID(ctx context.Context, tenantID string, transferID string) (*domain.InventoryTransfer, error) {
	transfer, err := scanTransferRow(s.db.QueryRowContext(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
	`, transferID, tenantID))
	if err != nil {
		return nil, err
	}

	items, err := s.loadTransferItems(ctx, transfer.ID)
	if err != nil {
		return nil, err
	}
	transfer.Items = items
	return transfer, nil
}

func (s *Store) ListTransfers(ctx context.Context, tenantID string, filter store.TransferFilter) ([]domain.InventoryTransfer, error) {
	if filter.Limit < 1 {
		filter.Limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE ($1 = '' OR tenant_id = $1)
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR from_location_id = $3 OR to_location_id = $3)
		ORDER BY requested_at DESC, id DESC
		LIMIT $4
	`, tenantID, filter.Status, filter.LocationID, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.InventoryTransfer, 0, filter.Limit)
	for rows.Next() {
		transfer, err := scanTransferRow(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range transfers {
		items, err := s.loadTransferItems(ctx, transfers[i].ID)
		if err != nil {
			return nil, err
		}
		transfers[i].Items = items
	}

	return transfers, nil
}

func (s *Store) TransitionTransfer(ctx context.Context, tenantID string, transferID string, fromStatuses []string, toStatus string, patch store.TransferPatch, receipt *store.TransferReceipt) (*domain.InventoryTransfer, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	transfer, err := scanTransferRow(pgTx.QueryRowContext(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
		FOR UPDATE
	`, transferID, tenantID))
	if err != nil {
		return nil, err
	}

	statusOK := false
	for _, status := range fromStatuses {
		if transfer.Status == status {
			statusOK = true
			break
		}
	}
	if !statusOK {
		return nil, &store.WrongStatusError{Current: transfer.Status, Expected: fromStatuses}
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT item_id, name, sku, COALESCE(barcode,''), unit_cost_cents, qty_sent, qty_received, COALESCE(discrepancy_note,'')
		FROM transfer_items
		WHERE transfer_id = $1
		ORDER BY id ASC
	`, transfer.ID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.TransferItem, 0, 8)
	for itemRows.Next() {
		var line domain.TransferItem
		var qtyReceived sql.NullInt64
		if err := itemRows.Scan(&line.ItemID, &line.Name, &line.SKU, &line.Barcode, &line.UnitCostCents, &line.QtySent, &qtyReceived, &line.DiscrepancyNote); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		if qtyReceived.Valid {
			qty := int(qtyReceived.Int64)
			line.QtyReceived = &qty
		}
		items = append(items, line)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()
	transfer.Items = items

	priorStatus := transfer.Status

	switch toStatus {
	case domain.TransferStatusInTransit:
		for _, line := range transfer.Items {
			if err := applyStockDelta(ctx, pgTx, transfer.TenantID, line.ItemID, -line.QtySent, domain.StockMovement{
				Kind:  domain.MovementTransferOut,
				RefID: transfer.ID,
			}); err != nil {
				return nil, err
			}
		}
	case domain.TransferStatusReceived, domain.TransferStatusDiscrepancy:
		for i := range transfer.Items {
			line := &transfer.Items[i]
			received := line.QtySent
			if receipt != nil {
				if qty, has := receipt.QtyReceived[line.ItemID]; has {
					received = qty
				}
				if note, has := receipt.DiscrepancyNote[line.ItemID]; has {
					line.DiscrepancyNote = note
				}
			}
			recCopy := received
			line.QtyReceived = &recCopy
			_, err = pgTx.ExecContext(ctx, `
				UPDATE transfer_items
				SET qty_received = $1, discrepancy_note = $2
				WHERE transfer_id = $3 AND item_id = $4
			`, received, nullIfEmpty(line.DiscrepancyNote), transfer.ID, line.ItemID)
			if err != nil {
				return nil, err
			}
			if received == 0 {
				continue
			}
			if err := applyStockDelta(ctx, pgTx, transfer.TenantID, line.ItemID, received, domain.StockMovement{
				Kind:  domain.MovementTransferIn,
				RefID: transfer.ID,
			}); err != nil {
				return nil, err
			}
		}
	case domain.TransferStatusCancelled:
		if priorStatus == domain.TransferStatusInTransit {
			for _, line := range transfer.Items {
				if err := applyStockDelta(ctx, pgTx, transfer.TenantID, line.ItemID, line.QtySent, domain.StockMovement{
					Kind:  domain.MovementTransferReversal,
					RefID: transfer.ID,
				}); err != nil {
					return nil, err
				}
			}
		}
	}

	transfer.Status = toStatus
	applyTransferPatch(transfer, patch)

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transfers
		SET status = $2, notes = $3,
			approved_by = $4, approved_at = $5,
			shipped_by = $6, shipped_at = $7,
			received_by = $8, received_at = $9
		WHERE id = $1
	`, transfer.ID, transfer.Status, nullIfEmpty(transfer.Notes),
		nullIfEmpty(transfer.ApprovedBy), nullTime(transfer.ApprovedAt),
		nullIfEmpty(transfer.ShippedBy), nullTime(transfer.ShippedAt),
		nullIfEmpty(transfer.ReceivedBy), nullTime(transfer.ReceivedAt))
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return transfer, nil
}

// applyTransferPatch writes patch fields only where the stored value is still
// empty. The transfer row is held FOR UPDATE, so the first transition to set
// an identity field wins.
func applyTransferPatch(transfer *domain.InventoryTransfer, patch store.TransferPatch) {
	if patch.ApprovedBy != nil && transfer.ApprovedBy == "" {
		transfer.ApprovedBy = *patch.ApprovedBy
	}
	if patch.ApprovedAt != nil && transfer.ApprovedAt == nil {
		at := *patch.ApprovedAt
		transfer.ApprovedAt = &at
	}
	if patch.ShippedBy != nil && transfer.ShippedBy == "" {
		transfer.ShippedBy = *patch.ShippedBy
	}
	if patch.ShippedAt != nil && transfer.ShippedAt == nil {
		at := *patch.ShippedAt
		transfer.ShippedAt = &at
	}
	if patch.ReceivedBy != nil && transfer.ReceivedBy == "" {
		transfer.ReceivedBy = *patch.ReceivedBy
	}
	if patch.ReceivedAt != nil && transfer.ReceivedAt == nil {
		at := *patch.ReceivedAt
		transfer.ReceivedAt = &at
	}
	if patch.Notes != nil && *patch.Notes != "" {
		transfer.Notes = *patch.Notes
	}
}

const transferColumns = `id, tenant_id, transfer_number, from_location_id, to_location_id,
	status, COALESCE(reason,''), COALESCE(notes,''), total_items, total_value_cents,
	requested_by, requested_at, COALESCE(approved_by,''), approved_at,
	COALESCE(shipped_by,''), shipped_at, COALESCE(received_by,''), received_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransferRow(row rowScanner) (*domain.InventoryTransfer, error) {
	var transfer domain.InventoryTransfer
	var approvedAt, shippedAt, receivedAt sql.NullTime
	err := row.Scan(
		&transfer.ID, &transfer.TenantID, &transfer.TransferNumber, &transfer.FromLocationID, &transfer.ToLocationID,
		&transfer.Status, &transfer.Reason, &transfer.Notes, &transfer.TotalItems, &transfer.TotalValueCents,
		&transfer.RequestedBy, &transfer.RequestedAt, &transfer.ApprovedBy, &approvedAt,
		&transfer.ShippedBy, &shippedAt, &transfer.ReceivedBy, &receivedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	transfer.RequestedAt = transfer.RequestedAt.UTC()
	if approvedAt.Valid {
		at := approvedAt.Time.UTC()
		transfer.ApprovedAt = &at
	}
	if shippedAt.Valid {
		at := shippedAt.Time.UTC()
		transfer.ShippedAt = &at
	}
	if receivedAt.Valid {
		at := receivedAt.Time.UTC()
		transfer.ReceivedAt = &at
	}
	return &transfer, nil
}

func (s *Store) loadTransferItems(ctx context.Context, transferID string) ([]domain.TransferItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, name, sku, COALESCE(barcode,''), unit_cost_cents, qty_sent, qty_received, COALESCE(discrepancy_note,'')
		FROM transfer_items
		WHERE transfer_id = $1
		ORDER BY id ASC
	`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransferItem, 0, 8)
	for rows.Next() {
		var line domain.TransferItem
		var qtyReceived sql.NullInt64
		if err := rows.Scan(&line.ItemID, &line.Name, &line.SKU, &line.Barcode, &line.UnitCostCents, &line.QtySent, &qtyReceived, &line.DiscrepancyNote); err != nil {
			return nil, err
		}
		if qtyReceived.Valid {
			qty := int(qtyReceived.Int64)
			line.QtyReceived = &qty
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.TenantID == "" || supplier.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if supplier.ID == "" {
		supplier.ID = uuid.NewString()
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, tenant_id, name, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.TenantID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone,''), created_at
		FROM suppliers
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at ASC, name ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.TenantID, &supplier.Name, &supplier.Phone, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.TenantID == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	for _, item := range po.Items {
		if item.ItemID == "" || item.Qty < 1 || item.UnitCostCents < 1 {
			return nil, store.ErrInvalidRequest
		}
	}
	if po.ID == "" {
		po.ID = uuid.NewString()
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	if po.Status == "" {
		po.Status = domain.POStatusDraft
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var supplierTenant string
	err = pgTx.QueryRowContext(ctx, `
		SELECT tenant_id FROM suppliers WHERE id = $1
	`, po.SupplierID).Scan(&supplierTenant)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if supplierTenant != po.TenantID {
		return nil, store.ErrNotFound
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, tenant_id, supplier_id, location_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, po.ID, po.TenantID, po.SupplierID, nullIfEmpty(po.LocationID), po.Status, po.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range po.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, item_id, qty, unit_cost_cents)
			VALUES ($1,$2,$3,$4)
		`, po.ID, item.ItemID, item.Qty, item.UnitCostCents)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := po
	return &created, nil
}

func (s *Store) GetPurchaseOrderByID(ctx context.Context, tenantID string, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var locationID sql.NullString
	var receivedBy sql.NullString
	var receivedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, supplier_id, location_id, status, created_at, received_by, received_at
		FROM purchase_orders
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
	`, purchaseOrderID, tenantID).Scan(&po.ID, &po.TenantID, &po.SupplierID, &locationID, &po.Status, &po.CreatedAt, &receivedBy, &receivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if locationID.Valid {
		po.LocationID = locationID.String
	}
	if receivedBy.Valid {
		po.ReceivedBy = receivedBy.String
	}
	if receivedAt.Valid {
		at := receivedAt.Time.UTC()
		po.ReceivedAt = &at
	}
	po.CreatedAt = po.CreatedAt.UTC()

	items, err := s.loadPurchaseOrderItems(ctx, po.ID)
	if err != nil {
		return nil, err
	}
	po.Items = items
	return &po, nil
}

func (s *Store) loadPurchaseOrderItems(ctx context.Context, purchaseOrderID string) ([]domain.PurchaseOrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, qty, unit_cost_cents
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY id ASC
	`, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PurchaseOrderItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&item.ItemID, &item.Qty, &item.UnitCostCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, tenantID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, supplier_id, location_id, status, created_at, received_by, received_at
		FROM purchase_orders
		WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, limit)
	for rows.Next() {
		var po domain.PurchaseOrder
		var locationID sql.NullString
		var receivedBy sql.NullString
		var receivedAt sql.NullTime
		if err := rows.Scan(&po.ID, &po.TenantID, &po.SupplierID, &locationID, &po.Status, &po.CreatedAt, &receivedBy, &receivedAt); err != nil {
			return nil, err
		}
		if locationID.Valid {
			po.LocationID = locationID.String
		}
		if receivedBy.Valid {
			po.ReceivedBy = receivedBy.String
		}
		if receivedAt.Valid {
			at := receivedAt.Time.UTC()
			po.ReceivedAt = &at
		}
		po.CreatedAt = po.CreatedAt.UTC()
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.loadPurchaseOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (s *Store) UpdatePurchaseOrder(ctx context.Context, tenantID string, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	for _, item := range po.Items {
		if item.ItemID == "" || item.Qty < 1 || item.UnitCostCents < 1 {
			return nil, store.ErrInvalidRequest
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM purchase_orders
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
		FOR UPDATE
	`, po.ID, tenantID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.POStatusDraft {
		return nil, &store.WrongStatusError{Current: status, Expected: []string{domain.POStatusDraft}}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET supplier_id = $2, location_id = $3
		WHERE id = $1
	`, po.ID, po.SupplierID, nullIfEmpty(po.LocationID))
	if err != nil {
		return nil, err
	}

	if len(po.Items) > 0 {
		_, err = pgTx.ExecContext(ctx, `DELETE FROM purchase_order_items WHERE purchase_order_id = $1`, po.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range po.Items {
			_, err := pgTx.ExecContext(ctx, `
				INSERT INTO purchase_order_items (purchase_order_id, item_id, qty, unit_cost_cents)
				VALUES ($1,$2,$3,$4)
			`, po.ID, item.ItemID, item.Qty, item.UnitCostCents)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.GetPurchaseOrderByID(ctx, tenantID, po.ID)
}

func (s *Store) DeletePurchaseOrder(ctx context.Context, tenantID string, purchaseOrderID string) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM purchase_orders
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
		FOR UPDATE
	`, purchaseOrderID, tenantID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if status != domain.POStatusDraft {
		return &store.WrongStatusError{Current: status, Expected: []string{domain.POStatusDraft}}
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM purchase_order_items WHERE purchase_order_id = $1`, purchaseOrderID); err != nil {
		return err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM purchase_orders WHERE id = $1`, purchaseOrderID); err != nil {
		return err
	}

	return pgTx.Commit()
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, tenantID string, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var poTenant, status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT tenant_id, status FROM purchase_orders
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
		FOR UPDATE
	`, purchaseOrderID, tenantID).Scan(&poTenant, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.POStatusDraft {
		return nil, &store.WrongStatusError{Current: status, Expected: []string{domain.POStatusDraft}}
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT item_id, qty FROM purchase_order_items WHERE purchase_order_id = $1
	`, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	type receiveLine struct {
		itemID string
		qty    int
	}
	lines := make([]receiveLine, 0, 8)
	for itemRows.Next() {
		var line receiveLine
		if err := itemRows.Scan(&line.itemID, &line.qty); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	for _, line := range lines {
		if err := applyStockDelta(ctx, pgTx, poTenant, line.itemID, line.qty, domain.StockMovement{
			Kind:  domain.MovementPurchaseOrder,
			RefID: purchaseOrderID,
		}); err != nil {
			return nil, err
		}
	}

	receivedBy = strings.TrimSpace(receivedBy)
	if receivedBy == "" {
		receivedBy = "system"
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $2, received_by = $3, received_at = $4
		WHERE id = $1
	`, purchaseOrderID, domain.POStatusReceived, receivedBy, receivedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.GetPurchaseOrderByID(ctx, tenantID, purchaseOrderID)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, nullIfEmpty(entry.EntityID), nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_username, actor_role, action, entity_type, COALESCE(entity_id,''), COALESCE(detail,''), created_at
		FROM audit_logs
		WHERE ($1 = '' OR tenant_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, tenant_id, active, created_at)
		VALUES ($1,$2,$3,$4,true,$5)
	`, username, user.Password, user.Role, user.TenantID, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, tenant_id, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.Password, &user.Role, &user.TenantID, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// nextSequence bumps the named per-tenant counter atomically and returns the
// new value. Runs inside the caller's transaction so a rolled-back operation
// does not consume a number out of order (gaps are still possible and fine).
func nextSequence(ctx context.Context, pgTx *sql.Tx, tenantID string, name string) (int64, error) {
	var value int64
	err := pgTx.QueryRowContext(ctx, `
		INSERT INTO tenant_sequences (tenant_id, name, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, name)
		DO UPDATE SET value = tenant_sequences.value + 1
		RETURNING value
	`, tenantID, name).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func applyStockDelta(ctx context.Context, pgTx *sql.Tx, tenantID string, itemID string, delta int, movement domain.StockMovement) error {
	_, err := pgTx.ExecContext(ctx, `
		UPDATE items
		SET stock = stock + $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3
	`, delta, itemID, tenantID)
	if err != nil {
		return err
	}
	return insertStockMovement(ctx, pgTx, tenantID, itemID, delta, movement)
}

func insertStockMovement(ctx context.Context, pgTx *sql.Tx, tenantID string, itemID string, delta int, mv domain.StockMovement) error {
	if mv.ID == "" {
		mv.ID = uuid.NewString()
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, tenant_id, item_id, delta, kind, ref_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, mv.ID, tenantID, itemID, delta, mv.Kind, nullIfEmpty(mv.RefID), nullIfEmpty(mv.Note), mv.CreatedAt)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
