// Package postgres stores accounts and the trade ledger in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
  id          TEXT PRIMARY KEY,
  balance     NUMERIC NOT NULL CHECK (balance >= 0),
  holdings    JSONB NOT NULL DEFAULT '[]',
  trade_count BIGINT NOT NULL DEFAULT 0,
  created_at  TIMESTAMPTZ NOT NULL,
  updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
  id           TEXT PRIMARY KEY,
  account_id   TEXT NOT NULL REFERENCES accounts(id),
  sequence     BIGINT NOT NULL,
  side         TEXT NOT NULL,
  symbol       TEXT NOT NULL,
  shares       NUMERIC NOT NULL,
  price        NUMERIC NOT NULL,
  total        NUMERIC NOT NULL,
  realized_pnl NUMERIC NOT NULL DEFAULT 0,
  ts           TIMESTAMPTZ NOT NULL,
  UNIQUE (account_id, sequence)
);
`

// Store is a pgx-backed account store. A commit is one SQL transaction
// guarded by the account's trade counter.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens a pool for dsn and makes sure the schema exists.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database url is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	s := New(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "create schema")
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, account domain.Account) error {
	holdings, err := json.Marshal(account.Holdings)
	if err != nil {
		return errors.Wrap(err, "marshal holdings")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (id, balance, holdings, trade_count, created_at, updated_at)
		VALUES ($1, $2::numeric, $3::jsonb, $4, $5, $6)`,
		account.ID, account.Balance.String(), string(holdings), int64(account.TradeCount), account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.Wrap(domain.ErrAccountExists, account.ID)
		}
		return errors.Wrap(err, "insert account")
	}
	return nil
}

func (s *Store) LoadAccount(ctx context.Context, id string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, balance::text, holdings::text, trade_count, created_at, updated_at
		FROM accounts WHERE id = $1`, id)

	var (
		account           domain.Account
		balance, holdings string
		tradeCount        int64
	)
	if err := row.Scan(&account.ID, &balance, &holdings, &tradeCount, &account.CreatedAt, &account.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, errors.Wrap(domain.ErrAccountNotFound, id)
		}
		return domain.Account{}, errors.Wrap(err, "select account")
	}

	var err error
	if account.Balance, err = decimal.NewFromString(balance); err != nil {
		return domain.Account{}, errors.Wrap(err, "decode balance")
	}
	if err := json.Unmarshal([]byte(holdings), &account.Holdings); err != nil {
		return domain.Account{}, errors.Wrap(err, "decode holdings")
	}
	if account.Holdings == nil {
		account.Holdings = []domain.Holding{}
	}
	account.TradeCount = uint64(tradeCount)
	return account, nil
}

// SaveAccount writes a non-trade update; it fails if a trade committed in between.
func (s *Store) SaveAccount(ctx context.Context, account domain.Account) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return updateAccount(ctx, tx, account, account.TradeCount)
	})
}

// Commit updates the account row and inserts the ledger row in one transaction.
func (s *Store) Commit(ctx context.Context, account domain.Account, record domain.TransactionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.AccountID != account.ID || record.Sequence != account.TradeCount {
		return errors.Wrapf(domain.ErrStaleAccount, "record %d does not match account trade %d", record.Sequence, account.TradeCount)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := updateAccount(ctx, tx, account, account.TradeCount-1); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (id, account_id, sequence, side, symbol, shares, price, total, realized_pnl, ts)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10)`,
			record.ID, record.AccountID, int64(record.Sequence), string(record.Side), record.Symbol,
			record.Shares.String(), record.Price.String(), record.Total.String(), record.RealizedPnL.String(), record.Timestamp)
		if err != nil {
			return errors.Wrap(err, "insert transaction")
		}
		return nil
	})
}

func updateAccount(ctx context.Context, tx pgx.Tx, account domain.Account, expectedTrades uint64) error {
	holdings, err := json.Marshal(account.Holdings)
	if err != nil {
		return errors.Wrap(err, "marshal holdings")
	}

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $2::numeric, holdings = $3::jsonb, trade_count = $4, updated_at = $5
		WHERE id = $1 AND trade_count = $6`,
		account.ID, account.Balance.String(), string(holdings), int64(account.TradeCount), account.UpdatedAt, int64(expectedTrades))
	if err != nil {
		return errors.Wrap(err, "update account")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, account.ID).Scan(&exists); err != nil {
		return errors.Wrap(err, "check account")
	}
	if !exists {
		return errors.Wrap(domain.ErrAccountNotFound, account.ID)
	}
	return errors.Wrapf(domain.ErrStaleAccount, "account %s moved past trade %d", account.ID, expectedTrades)
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, q domain.TransactionQuery) (domain.TransactionPage, error) {
	q = q.Normalize()

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return domain.TransactionPage{}, errors.Wrap(err, "check account")
	}
	if !exists {
		return domain.TransactionPage{}, errors.Wrap(domain.ErrAccountNotFound, accountID)
	}

	var upTo, total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0), COUNT(*)
		FROM transactions
		WHERE account_id = $1 AND ($2::bigint = 0 OR sequence <= $2)`,
		accountID, int64(q.UpToSequence)).Scan(&upTo, &total)
	if err != nil {
		return domain.TransactionPage{}, errors.Wrap(err, "count transactions")
	}

	page := domain.TransactionPage{
		Records:      []domain.TransactionRecord{},
		Page:         q.Page,
		Limit:        q.Limit,
		Total:        int(total),
		Pages:        (int(total) + q.Limit - 1) / q.Limit,
		UpToSequence: uint64(upTo),
	}
	if total == 0 {
		return page, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, sequence, side, symbol, shares::text, price::text, total::text, realized_pnl::text, ts
		FROM transactions
		WHERE account_id = $1 AND sequence <= $2
		ORDER BY sequence DESC
		LIMIT $3 OFFSET $4`,
		accountID, upTo, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return domain.TransactionPage{}, errors.Wrap(err, "select transactions")
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return domain.TransactionPage{}, err
		}
		page.Records = append(page.Records, r)
	}
	if err := rows.Err(); err != nil {
		return domain.TransactionPage{}, errors.Wrap(err, "iterate transactions")
	}
	return page, nil
}

func scanRecord(rows pgx.Rows) (domain.TransactionRecord, error) {
	var (
		r                                 domain.TransactionRecord
		sequence                          int64
		side                              string
		shares, price, total, realizedPnL string
		ts                                time.Time
	)
	if err := rows.Scan(&r.ID, &r.AccountID, &sequence, &side, &r.Symbol, &shares, &price, &total, &realizedPnL, &ts); err != nil {
		return r, errors.Wrap(err, "scan transaction")
	}

	r.Sequence = uint64(sequence)
	r.Side = domain.Side(side)
	r.Timestamp = ts

	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&r.Shares, shares}, {&r.Price, price}, {&r.Total, total}, {&r.RealizedPnL, realizedPnL}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return r, errors.Wrap(err, "decode transaction amount")
		}
	}
	return r, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// AccountIDs lists every stored account.
func (s *Store) AccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select account ids")
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan account id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
