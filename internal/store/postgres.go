package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"VoteCredit/internal/models"
	"VoteCredit/internal/verification"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type Postgres struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

const intentColumns = `
	id::text, user_id, rail, status, bundle_id, amount::text, amount_raw, asset, decimals,
	from_address, to_address, external_reference, tx_ref, candidate_reference,
	credit_count, failure_reason, created_at, completed_at, updated_at`

func (s *Postgres) CreateIntent(ctx context.Context, intent *models.Intent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_intents (
			id, user_id, rail, status, bundle_id, amount, amount_raw, asset, decimals,
			from_address, to_address, tx_ref, credit_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		intent.ID,
		intent.UserID,
		intent.Rail,
		intent.Status,
		intent.BundleID,
		intent.Amount.String(),
		intent.AmountRaw,
		intent.Asset,
		intent.Decimals,
		intent.FromAddress,
		intent.ToAddress,
		intent.TxRef,
		intent.CreditCount,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	return err
}

func (s *Postgres) GetIntent(ctx context.Context, id string) (*models.Intent, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id=$1`, id)
	return scanIntent(row)
}

func (s *Postgres) GetIntentByTxRef(ctx context.Context, txRef string) (*models.Intent, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE tx_ref=$1`, txRef)
	return scanIntent(row)
}

func (s *Postgres) GetIntentByReference(ctx context.Context, ref string) (*models.Intent, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE external_reference=$1`, ref)
	return scanIntent(row)
}

func (s *Postgres) RecordCandidate(ctx context.Context, id, ref string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE payment_intents
		SET candidate_reference=$2, updated_at=now()
		WHERE id=$1 AND status='PENDING'
	`, id, ref)
	return err
}

func (s *Postgres) Touch(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE payment_intents SET updated_at=now() WHERE id=$1 AND status='PENDING'`, id)
	return err
}

func (s *Postgres) ListPending(ctx context.Context, rail models.Rail, limit int) ([]*models.Intent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status='PENDING' AND rail=$1
			AND (candidate_reference IS NOT NULL OR tx_ref IS NOT NULL)
		ORDER BY updated_at ASC
		LIMIT $2
	`, rail, limit)
	if err != nil {
		return nil, err
	}
	return collectIntents(rows)
}

func (s *Postgres) ListPendingByPayer(ctx context.Context, rail models.Rail, from string) ([]*models.Intent, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status='PENDING' AND rail=$1 AND from_address=$2
		ORDER BY created_at ASC
	`, rail, from)
	if err != nil {
		return nil, err
	}
	return collectIntents(rows)
}

func (s *Postgres) WalletAddress(ctx context.Context, userID, chain string) (string, error) {
	var addr string
	err := s.Pool.QueryRow(ctx, `SELECT address FROM user_wallets WHERE user_id=$1 AND chain=$2`, userID, chain).Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return addr, err
}

func (s *Postgres) SaveWallet(ctx context.Context, w models.Wallet) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO user_wallets (user_id, chain, address)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, chain) DO UPDATE SET address=EXCLUDED.address
	`, w.UserID, w.Chain, w.Address)
	return err
}

func (s *Postgres) SaveCustodialKey(ctx context.Context, k *models.CustodialKey) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO custodial_keys (user_id, chain, address, sealed_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, chain) DO UPDATE
		SET address=EXCLUDED.address, sealed_key=EXCLUDED.sealed_key
	`, k.UserID, k.Chain, k.Address, k.SealedKey)
	return err
}

func (s *Postgres) CustodialKey(ctx context.Context, userID, chain string) (*models.CustodialKey, error) {
	k := models.CustodialKey{UserID: userID, Chain: chain}
	err := s.Pool.QueryRow(ctx, `
		SELECT address, sealed_key FROM custodial_keys WHERE user_id=$1 AND chain=$2
	`, userID, chain).Scan(&k.Address, &k.SealedKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Postgres) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.Pool.QueryRow(ctx, `SELECT balance FROM user_credits WHERE user_id=$1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *Postgres) LedgerEntries(ctx context.Context, intentID string) ([]models.LedgerEntry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id::text, intent_id::text, user_id, rail, external_reference, asset, amount_raw,
			credit_count, direction, created_at
		FROM ledger_entries WHERE intent_id=$1
		ORDER BY created_at ASC
	`, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.IntentID, &e.UserID, &e.Rail, &e.ExternalReference,
			&e.Asset, &e.AmountRaw, &e.CreditCount, &e.Direction, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) Cursor(ctx context.Context, key string) (int64, error) {
	row := s.Pool.QueryRow(ctx, "SELECT value FROM sync_state WHERE key=$1", key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *Postgres) SetCursor(ctx context.Context, key string, value int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sync_state (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value
	`, key, strconv.FormatInt(value, 10))
	return err
}

func (s *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockIntent(ctx context.Context, id string) (*models.Intent, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id=$1 FOR UPDATE`, id)
	return scanIntent(row)
}

func (t *pgTx) ReferenceOwner(ctx context.Context, ref string) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `SELECT id::text FROM payment_intents WHERE external_reference=$1`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (t *pgTx) MarkCompleted(ctx context.Context, id, ref string, at time.Time) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE payment_intents
		SET status='COMPLETED', external_reference=$2, completed_at=$3, updated_at=now()
		WHERE id=$1 AND status='PENDING'
	`, id, ref, at)
	if err != nil {
		return mapUnique(err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("intent %s is no longer pending", id)
	}
	return nil
}

func (t *pgTx) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE payment_intents
		SET status='FAILED', failure_reason=$2, completed_at=$3, updated_at=now()
		WHERE id=$1 AND status='PENDING'
	`, id, reason, at)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("intent %s is no longer pending", id)
	}
	return nil
}

func (t *pgTx) IncrementCredits(ctx context.Context, userID string, n int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO user_credits (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = user_credits.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance
	`, userID, n).Scan(&balance)
	return balance, err
}

func (t *pgTx) AppendLedger(ctx context.Context, e *models.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, intent_id, user_id, rail, external_reference, asset, amount_raw,
			credit_count, direction, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.IntentID, e.UserID, e.Rail, e.ExternalReference, e.Asset, e.AmountRaw,
		e.CreditCount, e.Direction, e.CreatedAt)
	return mapUnique(err)
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", verification.ErrReplayConflict, pgErr.ConstraintName)
	}
	return err
}

func scanIntent(row pgx.Row) (*models.Intent, error) {
	intent, err := scanIntentRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return intent, err
}

func collectIntents(rows pgx.Rows) ([]*models.Intent, error) {
	defer rows.Close()
	var out []*models.Intent
	for rows.Next() {
		intent, err := scanIntentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

func scanIntentRow(row pgx.Row) (*models.Intent, error) {
	var intent models.Intent
	var amount string
	var externalRef, txRef, candidate, failure sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&intent.ID,
		&intent.UserID,
		&intent.Rail,
		&intent.Status,
		&intent.BundleID,
		&amount,
		&intent.AmountRaw,
		&intent.Asset,
		&intent.Decimals,
		&intent.FromAddress,
		&intent.ToAddress,
		&externalRef,
		&txRef,
		&candidate,
		&intent.CreditCount,
		&failure,
		&intent.CreatedAt,
		&completedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	intent.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("intent %s: bad amount %q: %w", intent.ID, amount, err)
	}
	if externalRef.Valid {
		intent.ExternalReference = &externalRef.String
	}
	if txRef.Valid {
		intent.TxRef = &txRef.String
	}
	if candidate.Valid {
		intent.CandidateReference = &candidate.String
	}
	if failure.Valid {
		intent.FailureReason = &failure.String
	}
	if completedAt.Valid {
		intent.CompletedAt = &completedAt.Time
	}
	return &intent, nil
}
