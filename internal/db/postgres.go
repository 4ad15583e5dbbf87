package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/freieslabor/prepaid-mate/internal/models"
)

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
	pqNumericRange    = "22003"
)

// constraint name -> field name reported to clients
var uniqueFields = map[string]string{
	"accounts_name_key": "name",
	"accounts_code_key": "code",
	"drinks_code_key":   "code",
}

// PostgresConfig holds connection and pool settings.
type PostgresConfig struct {
	URI             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Postgres is the relational ledger store.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a pool and pings it, retrying while the database starts up.
func NewPostgres(cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	const maxRetries = 10
	retryInterval := 2 * time.Second
	for i := 0; i < maxRetries; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i < maxRetries-1 {
			logger.Warn("postgres not ready, retrying",
				zap.Int("attempt", i+1), zap.Duration("interval", retryInterval), zap.Error(err))
			time.Sleep(retryInterval)
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres after %d attempts: %w", maxRetries, err)
	}
	return &Postgres{db: db}, nil
}

// closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// InitSchema creates tables, constraints and the shared log sequence.
func (p *Postgres) InitSchema(ctx context.Context) error {
	query := `
	CREATE SEQUENCE IF NOT EXISTS ledger_seq;

	CREATE TABLE IF NOT EXISTS accounts (
		id VARCHAR(36) PRIMARY KEY,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		code TEXT NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CONSTRAINT accounts_name_key UNIQUE (name),
		CONSTRAINT accounts_code_key UNIQUE (code),
		CONSTRAINT accounts_balance_check CHECK (balance >= 0)
	);

	CREATE TABLE IF NOT EXISTS drinks (
		id VARCHAR(36) PRIMARY KEY,
		name TEXT NOT NULL,
		content_ml BIGINT,
		price BIGINT NOT NULL CHECK (price > 0),
		code TEXT NOT NULL,
		CONSTRAINT drinks_code_key UNIQUE (code)
	);

	CREATE TABLE IF NOT EXISTS money_logs (
		seq BIGINT PRIMARY KEY DEFAULT nextval('ledger_seq'),
		account_id VARCHAR(36) NOT NULL REFERENCES accounts(id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		timestamp BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS money_logs_account_idx ON money_logs (account_id);

	CREATE TABLE IF NOT EXISTS pay_logs (
		seq BIGINT PRIMARY KEY DEFAULT nextval('ledger_seq'),
		account_id VARCHAR(36) NOT NULL REFERENCES accounts(id),
		drink_id VARCHAR(36) NOT NULL REFERENCES drinks(id),
		drink_name TEXT NOT NULL,
		drink_code TEXT NOT NULL,
		price BIGINT NOT NULL CHECK (price > 0),
		timestamp BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS pay_logs_account_idx ON pay_logs (account_id);`

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
}

func (p *Postgres) View(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true}, fn)
}

func (p *Postgres) run(ctx context.Context, opts *sql.TxOptions, fn func(tx Tx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

const accountColumns = `id, name, password_hash, code, balance, created_at, updated_at`

func (t *pgTx) accountBy(ctx context.Context, column, value string, lock bool) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var a models.Account
	err := t.tx.QueryRowContext(ctx, query, value).Scan(
		&a.ID, &a.Name, &a.PasswordHash, &a.Code, &a.Balance, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func (t *pgTx) AccountByID(ctx context.Context, id string, lock bool) (*models.Account, error) {
	return t.accountBy(ctx, "id", id, lock)
}

func (t *pgTx) AccountByName(ctx context.Context, name string, lock bool) (*models.Account, error) {
	return t.accountBy(ctx, "name", name, lock)
}

func (t *pgTx) AccountByCode(ctx context.Context, code string, lock bool) (*models.Account, error) {
	return t.accountBy(ctx, "code", code, lock)
}

func (t *pgTx) InsertAccount(ctx context.Context, a *models.Account) error {
	query := `
	INSERT INTO accounts (id, name, password_hash, code, balance, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.tx.ExecContext(ctx, query,
		a.ID, a.Name, a.PasswordHash, a.Code, a.Balance, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return translatePQ(err, "failed to create account")
	}
	return nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *models.Account) error {
	query := `
	UPDATE accounts SET name = $1, password_hash = $2, code = $3, updated_at = $4
	WHERE id = $5`

	res, err := t.tx.ExecContext(ctx, query, a.Name, a.PasswordHash, a.Code, a.UpdatedAt, a.ID)
	if err != nil {
		return translatePQ(err, "failed to update account")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddBalance applies delta and returns the new balance. The CHECK constraint
// rejects any result below zero.
func (t *pgTx) AddBalance(ctx context.Context, accountID string, delta int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = $2 WHERE id = $3 RETURNING balance`,
		delta, time.Now().UTC(), accountID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, translatePQ(err, "failed to update balance")
	}
	return balance, nil
}

func (t *pgTx) DrinkByCode(ctx context.Context, code string) (*models.Drink, error) {
	var d models.Drink
	var content sql.NullInt64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, content_ml, price, code FROM drinks WHERE code = $1`, code,
	).Scan(&d.ID, &d.Name, &content, &d.Price, &d.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get drink: %w", err)
	}
	if content.Valid {
		d.ContentML = &content.Int64
	}
	return &d, nil
}

func (t *pgTx) InsertDrink(ctx context.Context, d *models.Drink) error {
	var content sql.NullInt64
	if d.ContentML != nil {
		content = sql.NullInt64{Int64: *d.ContentML, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO drinks (id, name, content_ml, price, code) VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Name, content, d.Price, d.Code)
	if err != nil {
		return translatePQ(err, "failed to create drink")
	}
	return nil
}

func (t *pgTx) LockCode(ctx context.Context, code string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, code); err != nil {
		return fmt.Errorf("failed to lock code: %w", err)
	}
	return nil
}

func (t *pgTx) AppendTopUp(ctx context.Context, e *models.MoneyLogEntry) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO money_logs (account_id, amount, timestamp) VALUES ($1, $2, $3) RETURNING seq`,
		e.AccountID, e.Amount, e.Timestamp,
	).Scan(&e.Seq)
	if err != nil {
		return translatePQ(err, "failed to append money log")
	}
	return nil
}

func (t *pgTx) AppendPurchase(ctx context.Context, e *models.PayLogEntry) error {
	err := t.tx.QueryRowContext(ctx, `
	INSERT INTO pay_logs (account_id, drink_id, drink_name, drink_code, price, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`,
		e.AccountID, e.DrinkID, e.DrinkName, e.DrinkCode, e.Price, e.Timestamp,
	).Scan(&e.Seq)
	if err != nil {
		return translatePQ(err, "failed to append pay log")
	}
	return nil
}

// History merges both logs, newest first. seq breaks ties between entries
// recorded within the same second.
func (t *pgTx) History(ctx context.Context, accountID string) ([]models.HistoryEntry, error) {
	query := `
	SELECT -price, drink_name, timestamp, drink_code, seq FROM pay_logs WHERE account_id = $1
	UNION ALL
	SELECT amount, $2::text, timestamp, '', seq FROM money_logs WHERE account_id = $1
	ORDER BY 3 DESC, 5 DESC`

	rows, err := t.tx.QueryContext(ctx, query, accountID, models.TopUpLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []models.HistoryEntry{}
	for rows.Next() {
		var h models.HistoryEntry
		if err := rows.Scan(&h.Amount, &h.Label, &h.Timestamp, &h.DrinkCode, &h.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return history, nil
}

func translatePQ(err error, action string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			field, ok := uniqueFields[pqErr.Constraint]
			if !ok {
				field = pqErr.Constraint
			}
			return &UniqueViolation{Field: field, Err: err}
		case pqCheckViolation:
			if pqErr.Constraint == "accounts_balance_check" {
				return ErrNegativeBalance
			}
		case pqNumericRange:
			return ErrBalanceOutOfRange
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}
