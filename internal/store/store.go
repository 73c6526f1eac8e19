package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Aniket17200/Profitfirst/internal/models"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetCredentials retrieves an owner's upstream credentials
func (s *Store) GetCredentials(ctx context.Context, ownerID string) (*models.Credentials, error) {
	var creds models.Credentials
	err := s.db.GetContext(ctx, &creds, `
		SELECT owner_id, store_url, store_token, ad_account_id, ad_token, logistics_token
		FROM owner_credentials WHERE owner_id = $1`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credentials for owner %s: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

// UpsertCredentials creates or replaces an owner's credentials
func (s *Store) UpsertCredentials(ctx context.Context, creds *models.Credentials) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO owner_credentials (owner_id, store_url, store_token, ad_account_id, ad_token, logistics_token)
		VALUES (:owner_id, :store_url, :store_token, :ad_account_id, :ad_token, :logistics_token)
		ON CONFLICT (owner_id) DO UPDATE SET
			store_url = EXCLUDED.store_url,
			store_token = EXCLUDED.store_token,
			ad_account_id = EXCLUDED.ad_account_id,
			ad_token = EXCLUDED.ad_token,
			logistics_token = EXCLUDED.logistics_token,
			updated_at = NOW()`, creds)
	return err
}

// GetProductCosts returns the owner's per-unit costs keyed by product id
func (s *Store) GetProductCosts(ctx context.Context, ownerID string) (map[string]decimal.Decimal, error) {
	var rows []models.ProductCost
	err := s.db.SelectContext(ctx, &rows,
		"SELECT owner_id, product_id, cost, updated_at FROM product_costs WHERE owner_id = $1", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product costs: %w", err)
	}

	costs := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		costs[r.ProductID] = r.Cost
	}
	return costs, nil
}

// UpsertProductCosts stores per-unit costs for an owner in one transaction
func (s *Store) UpsertProductCosts(ctx context.Context, ownerID string, costs map[string]decimal.Decimal) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for productID, cost := range costs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO product_costs (owner_id, product_id, cost)
			VALUES ($1, $2, $3)
			ON CONFLICT (owner_id, product_id) DO UPDATE SET cost = EXCLUDED.cost, updated_at = NOW()`,
			ownerID, productID, cost)
		if err != nil {
			return fmt.Errorf("failed to upsert cost for %s: %w", productID, err)
		}
	}

	return tx.Commit()
}
