package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"market-engine/models"
)

const writeBatchSize = 500

// PostgresWriter persists owners and property states to PostgreSQL.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter runs schema migrations on db and returns a ready-to-use
// PostgresWriter.
func NewPostgresWriter(db *sql.DB) (*PostgresWriter, error) {
	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS owners (
			id          UUID PRIMARY KEY,
			cluster_id  UUID        NOT NULL UNIQUE,
			name        TEXT        NOT NULL DEFAULT '',
			phone       TEXT        NOT NULL DEFAULT '',
			norm_name   TEXT        NOT NULL DEFAULT '',
			norm_phone  TEXT        NOT NULL DEFAULT '',
			owner_type  VARCHAR(20) NOT NULL DEFAULT 'unknown',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS owner_identities (
			owner_id    UUID NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
			raw_name    TEXT NOT NULL DEFAULT '',
			raw_phone   TEXT NOT NULL DEFAULT '',
			norm_name   TEXT NOT NULL DEFAULT '',
			norm_phone  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (raw_name, raw_phone)
		);

		CREATE TABLE IF NOT EXISTS owner_contacts (
			owner_id     UUID        NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
			contact_type VARCHAR(20) NOT NULL,
			value        TEXT        NOT NULL,
			is_primary   BOOLEAN     NOT NULL DEFAULT FALSE,
			PRIMARY KEY (owner_id, contact_type, value)
		);

		CREATE TABLE IF NOT EXISTS properties (
			id                    BIGSERIAL PRIMARY KEY,
			community             TEXT    NOT NULL DEFAULT '',
			building              TEXT    NOT NULL,
			unit                  TEXT    NOT NULL,
			property_type         TEXT    NOT NULL DEFAULT '',
			bedrooms              INTEGER,
			size_sqft             NUMERIC(12,2) NOT NULL DEFAULT 0,
			status                VARCHAR(20)   NOT NULL DEFAULT 'owned',
			last_price            NUMERIC(16,2) NOT NULL DEFAULT 0,
			last_transaction_date DATE,
			owner_id              UUID REFERENCES owners(id) ON DELETE SET NULL,
			meta                  JSONB   NOT NULL DEFAULT '{}'::jsonb,
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (building, unit)
		);

		CREATE TABLE IF NOT EXISTS aliases (
			alias      TEXT        NOT NULL,
			type       VARCHAR(20) NOT NULL,
			canonical  TEXT        NOT NULL,
			confidence NUMERIC(4,3) NOT NULL DEFAULT 1,
			PRIMARY KEY (alias, type)
		);

		CREATE INDEX IF NOT EXISTS idx_owners_norm_phone     ON owners(norm_phone);
		CREATE INDEX IF NOT EXISTS idx_identities_norm_phone ON owner_identities(norm_phone);
		CREATE INDEX IF NOT EXISTS idx_properties_community  ON properties(community);
		CREATE INDEX IF NOT EXISTS idx_properties_owner      ON properties(owner_id);
	`)
	return err
}

// WriteOwners replaces all owners, identities and contacts with owners in a
// single transaction. Properties keep their rows; their owner links are
// cleared until WriteProperties runs.
func (pw *PostgresWriter) WriteOwners(ctx context.Context, owners []*models.Owner) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM owners"); err != nil {
		return fmt.Errorf("postgres: clear owners: %w", err)
	}

	var ownerRows, identityRows, contactRows [][]any
	for _, o := range owners {
		ownerRows = append(ownerRows, []any{
			o.ID, o.ClusterID, o.Name, o.Phone, o.NormName, o.NormPhone, string(o.Type),
		})
		for _, m := range o.Members {
			identityRows = append(identityRows, []any{o.ID, m.RawName, m.RawPhone, m.NormName, m.NormPhone})
		}
		for _, c := range o.Contacts {
			contactRows = append(contactRows, []any{o.ID, c.Type, c.Value, c.Primary})
		}
	}

	if err := insertBatches(ctx, tx, "owners",
		[]string{"id", "cluster_id", "name", "phone", "norm_name", "norm_phone", "owner_type"},
		ownerRows, ""); err != nil {
		return err
	}
	if err := insertBatches(ctx, tx, "owner_identities",
		[]string{"owner_id", "raw_name", "raw_phone", "norm_name", "norm_phone"},
		identityRows, "ON CONFLICT (raw_name, raw_phone) DO NOTHING"); err != nil {
		return err
	}
	if err := insertBatches(ctx, tx, "owner_contacts",
		[]string{"owner_id", "contact_type", "value", "is_primary"},
		contactRows, "ON CONFLICT (owner_id, contact_type, value) DO NOTHING"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit owners: %w", err)
	}
	return nil
}

// WriteProperties upserts property states keyed by (building, unit). Rows
// are superseded, never deleted.
func (pw *PostgresWriter) WriteProperties(ctx context.Context, properties []*models.Property) error {
	if len(properties) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(properties))
	for _, p := range properties {
		meta, err := json.Marshal(p.Meta)
		if err != nil {
			return fmt.Errorf("postgres: encode meta for %s/%s: %w", p.Building, p.Unit, err)
		}
		var bedrooms sql.NullInt64
		if p.Bedrooms != nil {
			bedrooms = sql.NullInt64{Int64: int64(*p.Bedrooms), Valid: true}
		}
		var lastDate sql.NullTime
		if p.LastTransactionDate != nil {
			lastDate = sql.NullTime{Time: *p.LastTransactionDate, Valid: true}
		}
		ownerID := sql.NullString{String: p.OwnerID, Valid: p.OwnerID != ""}

		rows = append(rows, []any{
			p.Community, p.Building, p.Unit, p.PropertyType, bedrooms, p.SizeSqft,
			p.Status, p.LastPrice, lastDate, ownerID, string(meta),
		})
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertBatches(ctx, tx, "properties",
		[]string{"community", "building", "unit", "property_type", "bedrooms", "size_sqft",
			"status", "last_price", "last_transaction_date", "owner_id", "meta"},
		rows, `ON CONFLICT (building, unit) DO UPDATE SET
			community = EXCLUDED.community,
			property_type = EXCLUDED.property_type,
			bedrooms = EXCLUDED.bedrooms,
			size_sqft = EXCLUDED.size_sqft,
			status = EXCLUDED.status,
			last_price = EXCLUDED.last_price,
			last_transaction_date = EXCLUDED.last_transaction_date,
			owner_id = EXCLUDED.owner_id,
			meta = EXCLUDED.meta,
			updated_at = NOW()`); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit properties: %w", err)
	}
	return nil
}

func insertBatches(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any, conflict string) error {
	for i := 0; i < len(rows); i += writeBatchSize {
		end := i + writeBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		stmt, args := buildInsert(table, columns, rows[i:end], conflict)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("postgres: insert %s batch %d: %w", table, i/writeBatchSize+1, err)
		}
	}
	return nil
}

func buildInsert(table string, columns []string, batch [][]any, conflict string) (string, []any) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*len(columns))

	for idx, row := range batch {
		base := idx * len(columns)
		placeholders := make([]string, len(columns))
		for c := range columns {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s %s",
		table, strings.Join(columns, ", "), strings.Join(valueStrings, ","), conflict)
	return strings.TrimSpace(query), valueArgs
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
