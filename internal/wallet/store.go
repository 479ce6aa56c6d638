package wallet

import (
	"context"
	"database/sql"
	"errors"

	"appeals-workers/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const balancesQuery = `SELECT saldo_sacavel, saldo_bonus FROM organizations WHERE id = $1`

// The row lock serializes deductions per organization, so the split is always computed
// from the balances the debit is applied to.
const lockBalancesQuery = balancesQuery + ` FOR UPDATE`

const debitQuery = `
	UPDATE organizations
	SET saldo_bonus = saldo_bonus - $2,
	    saldo_sacavel = saldo_sacavel - $3
	WHERE id = $1`

const entryQuery = `
	SELECT id, organization_id, user_id, valor, status, categoria, descricao, metodo_pagamento, created_at
	FROM faturamento
	WHERE id = $1`

const insertEntryQuery = `
	INSERT INTO faturamento
		(id, organization_id, user_id, valor, status, categoria, descricao, metodo_pagamento, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func loadBalances(ctx context.Context, db queryRower, organizationID string) (Balances, error) {
	var b Balances
	err := db.QueryRowContext(ctx, balancesQuery, organizationID).Scan(&b.Spendable, &b.Bonus)
	return b, err
}

func lockBalances(ctx context.Context, tx *sql.Tx, organizationID string) (Balances, error) {
	var b Balances
	err := tx.QueryRowContext(ctx, lockBalancesQuery, organizationID).Scan(&b.Spendable, &b.Bonus)
	return b, err
}

func debit(ctx context.Context, tx *sql.Tx, organizationID string, bonusTaken, spendableTaken decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, debitQuery, organizationID, bonusTaken.String(), spendableTaken.String())
	return err
}

func findEntry(ctx context.Context, db queryRower, id string) (models.BillingEntry, bool, error) {
	var (
		e           models.BillingEntry
		description sql.NullString
	)
	err := db.QueryRowContext(ctx, entryQuery, id).Scan(
		&e.ID, &e.OrganizationID, &e.UserID, &e.Amount, &e.Status,
		&e.Category, &description, &e.PaymentMethod, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BillingEntry{}, false, nil
	}
	if err != nil {
		return models.BillingEntry{}, false, err
	}
	e.Description = description.String
	return e, true, nil
}

func insertEntry(ctx context.Context, db execer, e models.BillingEntry) error {
	_, err := db.ExecContext(ctx, insertEntryQuery,
		e.ID, e.OrganizationID, e.UserID, e.Amount.String(), e.Status,
		e.Category, e.Description, e.PaymentMethod, e.CreatedAt,
	)
	return err
}

// insertInTx writes e inside tx behind a savepoint, so a failed insert leaves the
// debit in tx intact. insertErr is the insert failure; err is set only when the
// savepoint itself could not be used and tx must be abandoned.
func insertInTx(ctx context.Context, tx *sql.Tx, e models.BillingEntry) (insertErr, err error) {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT billing_entry`); err != nil {
		return nil, err
	}
	if insertErr = insertEntry(ctx, tx, e); insertErr != nil {
		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT billing_entry`); err != nil {
			return insertErr, err
		}
		return insertErr, nil
	}
	_, err = tx.ExecContext(ctx, `RELEASE SAVEPOINT billing_entry`)
	return nil, err
}

// isRetryableConflict reports serialization failures and deadlocks, after which the
// whole transaction can be run again.
func isRetryableConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}
