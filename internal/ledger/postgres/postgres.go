// Package postgres is the durable Ledger (C1) backing store: sponsors,
// vaults, contracts, entrypoints, conditions and the operation audit trail
// live in Postgres, reached through sqlx+lib/pq. The schema mirrors
// original_source/src/models.py (SQLAlchemy) and its Alembic migrations,
// now expressed as the SQL files under migrations/.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/marigold-dev/gas-station/internal/apperr"
	"github.com/marigold-dev/gas-station/internal/ledger"
	"github.com/marigold-dev/gas-station/internal/obslog"
)

// Ledger is a sqlx-backed ledger.Ledger. All writes that must be atomic per
// §4.1/§4.2 (AdmitOperation, RegisterSponsor, RegisterContract) run inside a
// single sql.Tx.
type Ledger struct {
	db *sqlx.DB
}

// Open connects to dsn (a postgres:// URL) and verifies it with a ping.
func Open(dsn string) (*Ledger, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: connect")
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func notFoundOrErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(what)
	}
	return apperr.Internal(errors.Wrap(err, what))
}

func isUniqueViolation(err error) bool {
	return err != nil && err.Error() != "" && (sqlStateOf(err) == "23505")
}

// sqlStateOf extracts the PQ error code without importing lib/pq's error
// type directly into callers; lib/pq.Error implements error and exposes
// Code, but most call sites here only need the unique-violation check.
func sqlStateOf(err error) string {
	type pqErr interface {
		SQLState() string
	}
	if pe, ok := errors.Cause(err).(pqErr); ok {
		return pe.SQLState()
	}
	return ""
}

func (l *Ledger) RegisterSponsor(ctx context.Context, name, chainAddress string) (ledger.Sponsor, ledger.Vault, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Sponsor{}, ledger.Vault{}, apperr.Internal(err)
	}
	defer tx.Rollback()

	sp := ledger.Sponsor{ID: uuid.New(), Name: name, ChainAddress: chainAddress}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sponsors (id, name, chain_address, withdraw_counter)
		VALUES ($1, $2, $3, 0)`, sp.ID, sp.Name, sp.ChainAddress)
	if isUniqueViolation(err) {
		return ledger.Sponsor{}, ledger.Vault{}, apperr.AlreadyRegistered("sponsor")
	}
	if err != nil {
		return ledger.Sponsor{}, ledger.Vault{}, apperr.Internal(errors.Wrap(err, "insert sponsor"))
	}

	v := ledger.Vault{ID: uuid.New(), OwnerSponsorID: sp.ID, Amount: 0}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vaults (id, owner_sponsor_id, amount)
		VALUES ($1, $2, 0)`, v.ID, v.OwnerSponsorID)
	if err != nil {
		return ledger.Sponsor{}, ledger.Vault{}, apperr.Internal(errors.Wrap(err, "insert vault"))
	}

	if err := tx.Commit(); err != nil {
		return ledger.Sponsor{}, ledger.Vault{}, apperr.Internal(err)
	}
	obslog.Ledger.Infof("registered sponsor %s with vault %s", sp.ID, v.ID)
	return sp, v, nil
}

func (l *Ledger) GetSponsor(ctx context.Context, id uuid.UUID) (ledger.Sponsor, error) {
	var row sponsorRow
	err := l.db.GetContext(ctx, &row, `SELECT * FROM sponsors WHERE id = $1`, id)
	if err != nil {
		return ledger.Sponsor{}, notFoundOrErr(err, "sponsor")
	}
	return row.toDomain(), nil
}

func (l *Ledger) GetSponsorByAddress(ctx context.Context, address string) (ledger.Sponsor, error) {
	var row sponsorRow
	err := l.db.GetContext(ctx, &row, `SELECT * FROM sponsors WHERE chain_address = $1`, address)
	if err != nil {
		return ledger.Sponsor{}, notFoundOrErr(err, "sponsor")
	}
	return row.toDomain(), nil
}

func (l *Ledger) UpdateWithdrawCounter(ctx context.Context, sponsorID uuid.UUID, counter int) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE sponsors SET withdraw_counter = $2
		WHERE id = $1 AND withdraw_counter < $2`, sponsorID, counter)
	if err != nil {
		return apperr.Internal(errors.Wrap(err, "update withdraw counter"))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.BadWithdrawCounter()
	}
	return nil
}

func (l *Ledger) RegisterContract(ctx context.Context, c ledger.NewContract) (ledger.Contract, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Contract{}, apperr.Internal(err)
	}
	defer tx.Rollback()

	row := ledger.Contract{
		ID:               uuid.New(),
		Address:          c.Address,
		OwnerSponsorID:   c.OwnerSponsorID,
		VaultID:          c.VaultID,
		Name:             c.Name,
		MaxCallsPerMonth: c.MaxCallsPerMonth,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO contracts (id, address, owner_sponsor_id, vault_id, name, max_calls_per_month)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		row.ID, row.Address, row.OwnerSponsorID, row.VaultID, row.Name, row.MaxCallsPerMonth)
	if isUniqueViolation(err) {
		return ledger.Contract{}, apperr.AlreadyRegistered("contract")
	}
	if err != nil {
		return ledger.Contract{}, apperr.Internal(errors.Wrap(err, "insert contract"))
	}

	for _, ep := range c.Entrypoints {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entrypoints (id, contract_id, name, is_enabled)
			VALUES ($1, $2, $3, $4)`, uuid.New(), row.ID, ep.Name, ep.IsEnabled)
		if err != nil {
			return ledger.Contract{}, apperr.Internal(errors.Wrap(err, "insert entrypoint"))
		}
	}

	if err := tx.Commit(); err != nil {
		return ledger.Contract{}, apperr.Internal(err)
	}
	return row, nil
}

func (l *Ledger) GetContract(ctx context.Context, id uuid.UUID) (ledger.Contract, error) {
	var row contractRow
	err := l.db.GetContext(ctx, &row, `SELECT * FROM contracts WHERE id = $1`, id)
	if err != nil {
		return ledger.Contract{}, notFoundOrErr(err, "contract")
	}
	return row.toDomain(), nil
}

func (l *Ledger) GetContractByAddress(ctx context.Context, address string) (ledger.Contract, error) {
	var row contractRow
	err := l.db.GetContext(ctx, &row, `SELECT * FROM contracts WHERE address = $1`, address)
	if err != nil {
		return ledger.Contract{}, notFoundOrErr(err, "contract")
	}
	return row.toDomain(), nil
}

func (l *Ledger) ListContractsBySponsor(ctx context.Context, sponsorID uuid.UUID) ([]ledger.Contract, error) {
	var rows []contractRow
	if err := l.db.SelectContext(ctx, &rows, `SELECT * FROM contracts WHERE owner_sponsor_id = $1 ORDER BY name`, sponsorID); err != nil {
		return nil, apperr.Internal(err)
	}
	return toContracts(rows), nil
}

func (l *Ledger) ListContractsByVault(ctx context.Context, vaultID uuid.UUID) ([]ledger.Contract, error) {
	var rows []contractRow
	if err := l.db.SelectContext(ctx, &rows, `SELECT * FROM contracts WHERE vault_id = $1 ORDER BY name`, vaultID); err != nil {
		return nil, apperr.Internal(err)
	}
	return toContracts(rows), nil
}

func (l *Ledger) UpdateMaxCallsPerMonth(ctx context.Context, contractID uuid.UUID, max int) (ledger.Contract, error) {
	var row contractRow
	err := l.db.GetContext(ctx, &row, `
		UPDATE contracts SET max_calls_per_month = $2 WHERE id = $1
		RETURNING *`, contractID, max)
	if err != nil {
		return ledger.Contract{}, notFoundOrErr(err, "contract")
	}
	return row.toDomain(), nil
}

func (l *Ledger) ListEntrypoints(ctx context.Context, contractID uuid.UUID) ([]ledger.Entrypoint, error) {
	var rows []entrypointRow
	if err := l.db.SelectContext(ctx, &rows, `SELECT * FROM entrypoints WHERE contract_id = $1 ORDER BY name`, contractID); err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]ledger.Entrypoint, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (l *Ledger) GetEntrypoint(ctx context.Context, contractID uuid.UUID, name string) (ledger.Entrypoint, error) {
	var row entrypointRow
	err := l.db.GetContext(ctx, &row, `
		SELECT * FROM entrypoints WHERE contract_id = $1 AND name = $2`, contractID, name)
	if err != nil {
		return ledger.Entrypoint{}, notFoundOrErr(err, "entrypoint")
	}
	return row.toDomain(), nil
}

func (l *Ledger) UpdateEntrypoints(ctx context.Context, updates []ledger.EntrypointUpdate) ([]ledger.Entrypoint, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer tx.Rollback()

	out := make([]ledger.Entrypoint, 0, len(updates))
	for _, u := range updates {
		var row entrypointRow
		err := tx.GetContext(ctx, &row, `
			UPDATE entrypoints SET is_enabled = $2 WHERE id = $1
			RETURNING *`, u.ID, u.IsEnabled)
		if err != nil {
			return nil, notFoundOrErr(err, "entrypoint")
		}
		out = append(out, row.toDomain())
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (l *Ledger) GetVault(ctx context.Context, id uuid.UUID) (ledger.Vault, error) {
	var row vaultRow
	err := l.db.GetContext(ctx, &row, `SELECT * FROM vaults WHERE id = $1`, id)
	if err != nil {
		return ledger.Vault{}, notFoundOrErr(err, "vault")
	}
	return row.toDomain(), nil
}

func (l *Ledger) GetVaultByContract(ctx context.Context, contractAddress string) (ledger.Vault, error) {
	var row vaultRow
	err := l.db.GetContext(ctx, &row, `
		SELECT vaults.* FROM vaults
		JOIN contracts ON contracts.vault_id = vaults.id
		WHERE contracts.address = $1`, contractAddress)
	if err != nil {
		return ledger.Vault{}, notFoundOrErr(err, "vault")
	}
	return row.toDomain(), nil
}

func (l *Ledger) CreditVault(ctx context.Context, id uuid.UUID, delta int64) (ledger.Vault, error) {
	var row vaultRow
	err := l.db.GetContext(ctx, &row, `
		UPDATE vaults SET amount = amount + $2 WHERE id = $1
		RETURNING *`, id, delta)
	if err != nil {
		return ledger.Vault{}, notFoundOrErr(err, "vault")
	}
	return row.toDomain(), nil
}

func (l *Ledger) DebitVault(ctx context.Context, id uuid.UUID, delta int64) (ledger.Vault, error) {
	var row vaultRow
	err := l.db.GetContext(ctx, &row, `
		UPDATE vaults SET amount = amount - $2
		WHERE id = $1 AND amount >= $2
		RETURNING *`, id, delta)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := l.GetVault(ctx, id); getErr != nil {
			return ledger.Vault{}, getErr
		}
		return ledger.Vault{}, apperr.NotEnoughFunds("vault balance below debit amount")
	}
	if err != nil {
		return ledger.Vault{}, apperr.Internal(err)
	}
	return row.toDomain(), nil
}

func (l *Ledger) CountOperationsThisMonth(ctx context.Context, contractID uuid.UUID) (int, error) {
	now := time.Now()
	y, m, _ := now.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	var n int
	err := l.db.GetContext(ctx, &n, `
		SELECT count(*) FROM operations WHERE contract_id = $1 AND created_at >= $2`, contractID, start)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

func (l *Ledger) CountOperationsBySenderSince(ctx context.Context, contractID uuid.UUID, sender string, since time.Time) (int, error) {
	var n int
	err := l.db.GetContext(ctx, &n, `
		SELECT count(*) FROM operations
		WHERE contract_id = $1 AND sender_address = $2 AND created_at >= $3`, contractID, sender, since)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

func (l *Ledger) SetOperationCost(ctx context.Context, txHash string, destination string, cost int64) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE operations SET cost = $3
		FROM contracts
		WHERE operations.contract_id = contracts.id
		  AND operations.tx_hash = $1 AND contracts.address = $2`, txHash, destination, cost)
	if err != nil {
		return apperr.Internal(errors.Wrap(err, "set operation cost"))
	}
	return nil
}

func (l *Ledger) CreateCondition(ctx context.Context, c ledger.NewCondition) (ledger.Condition, error) {
	row := ledger.Condition{
		ID: uuid.New(), Kind: c.Kind, VaultID: c.VaultID, Max: c.Max,
		ContractID: c.ContractID, EntrypointID: c.EntrypointID, SponseeAddr: c.SponseeAddr,
		IsActive: true,
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO conditions (id, kind, vault_id, max_calls, current_calls, is_active, contract_id, entrypoint_id, sponsee_address, created_at)
		VALUES ($1, $2, $3, $4, 0, true, $5, $6, $7, now())`,
		row.ID, row.Kind, row.VaultID, row.Max, row.ContractID, row.EntrypointID, row.SponseeAddr)
	if isUniqueViolation(err) {
		return ledger.Condition{}, apperr.ConditionAlreadyExists("condition already exists for this scope")
	}
	if err != nil {
		return ledger.Condition{}, apperr.Internal(errors.Wrap(err, "insert condition"))
	}
	return row, nil
}

func (l *Ledger) ListConditions(ctx context.Context, vaultID uuid.UUID) ([]ledger.Condition, error) {
	var rows []conditionRow
	if err := l.db.SelectContext(ctx, &rows, `SELECT * FROM conditions WHERE vault_id = $1`, vaultID); err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]ledger.Condition, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (l *Ledger) GetActiveMaxCallsPerEntrypoint(ctx context.Context, contractID, entrypointID, vaultID uuid.UUID) (*ledger.Condition, error) {
	var row conditionRow
	err := l.db.GetContext(ctx, &row, `
		SELECT * FROM conditions
		WHERE is_active AND kind = $1 AND vault_id = $2 AND contract_id = $3 AND entrypoint_id = $4`,
		ledger.MaxCallsPerEntrypoint, vaultID, contractID, entrypointID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	d := row.toDomain()
	return &d, nil
}

func (l *Ledger) GetActiveMaxCallsPerSponsee(ctx context.Context, contractID, vaultID uuid.UUID) (*ledger.Condition, error) {
	var row conditionRow
	err := l.db.GetContext(ctx, &row, `
		SELECT * FROM conditions
		WHERE is_active AND kind = $1 AND vault_id = $2 AND contract_id = $3`,
		ledger.MaxCallsPerSponsee, vaultID, contractID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	d := row.toDomain()
	return &d, nil
}

func (l *Ledger) AdmitOperation(ctx context.Context, op ledger.NewOperation, matchedConditions []uuid.UUID) (ledger.Operation, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Operation{}, apperr.Internal(err)
	}
	defer tx.Rollback()

	row := ledger.Operation{
		ID: uuid.New(), SenderAddress: op.SenderAddress, ContractID: op.ContractID,
		EntrypointID: op.EntrypointID, TxHash: op.TxHash, Status: op.Status,
	}
	err = tx.GetContext(ctx, &row.CreatedAt, `
		INSERT INTO operations (id, sender_address, contract_id, entrypoint_id, tx_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at`, row.ID, row.SenderAddress, row.ContractID, row.EntrypointID, row.TxHash, row.Status)
	if err != nil {
		return ledger.Operation{}, apperr.Internal(errors.Wrap(err, "insert operation"))
	}

	for _, id := range matchedConditions {
		if _, err := tx.ExecContext(ctx, `
			UPDATE conditions SET current_calls = current_calls + 1 WHERE id = $1`, id); err != nil {
			return ledger.Operation{}, apperr.Internal(errors.Wrap(err, "increment condition"))
		}
	}

	if err := tx.Commit(); err != nil {
		return ledger.Operation{}, apperr.Internal(err)
	}
	return row, nil
}

// row types translate between sqlx's column-tagged scanning and the
// exported domain types, the same split the teacher's bind package keeps
// between wire structs and Michelson domain values.

type sponsorRow struct {
	ID              uuid.UUID `db:"id"`
	Name            string    `db:"name"`
	ChainAddress    string    `db:"chain_address"`
	WithdrawCounter int       `db:"withdraw_counter"`
}

func (r sponsorRow) toDomain() ledger.Sponsor {
	return ledger.Sponsor{ID: r.ID, Name: r.Name, ChainAddress: r.ChainAddress, WithdrawCounter: r.WithdrawCounter}
}

type vaultRow struct {
	ID             uuid.UUID `db:"id"`
	OwnerSponsorID uuid.UUID `db:"owner_sponsor_id"`
	Amount         int64     `db:"amount"`
}

func (r vaultRow) toDomain() ledger.Vault {
	return ledger.Vault{ID: r.ID, OwnerSponsorID: r.OwnerSponsorID, Amount: r.Amount}
}

type contractRow struct {
	ID               uuid.UUID `db:"id"`
	Address          string    `db:"address"`
	OwnerSponsorID   uuid.UUID `db:"owner_sponsor_id"`
	VaultID          uuid.UUID `db:"vault_id"`
	Name             string    `db:"name"`
	MaxCallsPerMonth int       `db:"max_calls_per_month"`
}

func (r contractRow) toDomain() ledger.Contract {
	return ledger.Contract{
		ID: r.ID, Address: r.Address, OwnerSponsorID: r.OwnerSponsorID,
		VaultID: r.VaultID, Name: r.Name, MaxCallsPerMonth: r.MaxCallsPerMonth,
	}
}

func toContracts(rows []contractRow) []ledger.Contract {
	out := make([]ledger.Contract, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

type entrypointRow struct {
	ID         uuid.UUID `db:"id"`
	ContractID uuid.UUID `db:"contract_id"`
	Name       string    `db:"name"`
	IsEnabled  bool      `db:"is_enabled"`
}

func (r entrypointRow) toDomain() ledger.Entrypoint {
	return ledger.Entrypoint{ID: r.ID, ContractID: r.ContractID, Name: r.Name, IsEnabled: r.IsEnabled}
}

type conditionRow struct {
	ID             uuid.UUID         `db:"id"`
	Kind           ledger.ConditionKind `db:"kind"`
	VaultID        uuid.UUID         `db:"vault_id"`
	Max            int               `db:"max_calls"`
	Current        int               `db:"current_calls"`
	CreatedAt      time.Time         `db:"created_at"`
	IsActive       bool              `db:"is_active"`
	ContractID     *uuid.UUID        `db:"contract_id"`
	EntrypointID   *uuid.UUID        `db:"entrypoint_id"`
	SponseeAddress *string           `db:"sponsee_address"`
}

func (r conditionRow) toDomain() ledger.Condition {
	return ledger.Condition{
		ID: r.ID, Kind: r.Kind, VaultID: r.VaultID, Max: r.Max, Current: r.Current,
		CreatedAt: r.CreatedAt, IsActive: r.IsActive, ContractID: r.ContractID,
		EntrypointID: r.EntrypointID, SponseeAddr: r.SponseeAddress,
	}
}
