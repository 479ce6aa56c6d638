// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appeals-workers/internal/alerts"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/models"
	"appeals-workers/internal/wallet"
	deductbalance "appeals-workers/internal/workers/wallet/deduct-balance"
)

// The suite runs against a real PostgreSQL server inside a throwaway schema.
// Set E2E_POSTGRES_DSN (key=value or URL form) to enable it.
const dsnEnv = "E2E_POSTGRES_DSN"

const schemaDDL = `
CREATE TABLE organizations (
	id                    TEXT PRIMARY KEY,
	saldo_sacavel         NUMERIC(14,2) NOT NULL DEFAULT 0,
	saldo_bonus           NUMERIC(14,2) NOT NULL DEFAULT 0,
	intervalo_notificacao INTEGER
);
CREATE TABLE clientes (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	nome            TEXT NOT NULL,
	email           TEXT,
	telefone        TEXT,
	ativo           BOOLEAN NOT NULL DEFAULT true
);
CREATE TABLE servicos (
	id   TEXT PRIMARY KEY,
	nome TEXT NOT NULL
);
CREATE TABLE contratos (
	id                       TEXT PRIMARY KEY,
	organization_id          TEXT NOT NULL REFERENCES organizations(id),
	cliente_id               TEXT NOT NULL REFERENCES clientes(id),
	servico_id               TEXT REFERENCES servicos(id),
	status                   TEXT NOT NULL,
	lembrete_ativado         BOOLEAN NOT NULL DEFAULT true,
	alerta_ativo             BOOLEAN NOT NULL DEFAULT false,
	lido                     BOOLEAN NOT NULL DEFAULT false,
	intervalo_notificacao    INTEGER,
	data_proximo_lembrete    TIMESTAMPTZ,
	data_ultima_notificacao  TIMESTAMPTZ,
	last_checkin_notified_at TIMESTAMPTZ,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE faturamento (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL REFERENCES organizations(id),
	user_id          TEXT NOT NULL,
	valor            NUMERIC(14,2) NOT NULL,
	status           TEXT NOT NULL,
	categoria        TEXT NOT NULL,
	descricao        TEXT,
	metodo_pagamento TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);`

func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}

// openTestDB creates a fresh schema, applies the DDL and drops the schema on cleanup.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("Skipping e2e test: %s not set", dsnEnv)
	}

	admin, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	if err := admin.Ping(); err != nil {
		admin.Close()
		t.Skipf("Skipping e2e test: PostgreSQL not reachable: %v", err)
	}

	schema := fmt.Sprintf("e2e_%d", time.Now().UnixNano())
	_, err = admin.Exec("CREATE SCHEMA " + schema)
	require.NoError(t, err)

	db, err := sql.Open("postgres", withSearchPath(dsn, schema))
	require.NoError(t, err)
	db.SetMaxOpenConns(20)

	t.Cleanup(func() {
		db.Close()
		_, _ = admin.Exec("DROP SCHEMA " + schema + " CASCADE")
		admin.Close()
	})

	_, err = db.Exec(schemaDDL)
	require.NoError(t, err)
	return db
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}

// ==========================
// Alert lifecycle
// ==========================

func TestAlertLifecycle(t *testing.T) {
	db := openTestDB(t)
	rdb := newRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mustExec(t, db, `INSERT INTO organizations (id, intervalo_notificacao) VALUES ('org-1', 10), ('org-2', NULL)`)
	mustExec(t, db, `INSERT INTO servicos (id, nome) VALUES ('svc-1', 'Recurso JARI')`)
	mustExec(t, db, `INSERT INTO clientes (id, organization_id, nome, email, ativo) VALUES
		('cl-1', 'org-1', 'Ana Souza', 'ana@example.com', true),
		('cl-2', 'org-1', 'Bruno Lima', NULL, true),
		('cl-3', 'org-1', 'Inativo', NULL, false),
		('cl-4', 'org-2', 'Outra Org', NULL, true)`)
	mustExec(t, db, `INSERT INTO contratos
		(id, organization_id, cliente_id, servico_id, status, intervalo_notificacao, data_proximo_lembrete) VALUES
		('due-urgent', 'org-1', 'cl-1', 'svc-1', 'pendente', NULL, $1),
		('due-attention', 'org-1', 'cl-2', NULL, 'indeferido', 3, $2),
		('not-due', 'org-1', 'cl-1', NULL, 'deferido', NULL, $3),
		('inactive-client', 'org-1', 'cl-3', NULL, 'pendente', NULL, $1),
		('closed-status', 'org-1', 'cl-2', NULL, 'protocolado', NULL, $1),
		('other-org', 'org-2', 'cl-4', NULL, 'pendente', NULL, $1)`,
		now.Add(-5*24*time.Hour), now.Add(-time.Hour), now.Add(48*time.Hour))

	engine := alerts.NewEngine(db, alerts.NewRedisSnapshotCache(rdb, time.Hour), alerts.DefaultPolicy(), logger.NewTestLogger(t))

	snapshot, err := engine.Refresh(ctx, "org-1")
	require.NoError(t, err)

	byID := map[string]models.NotificationAlert{}
	for _, a := range snapshot.Alerts {
		byID[a.ContractID] = a
	}
	require.Len(t, byID, 2, "only due, open contracts of active clients")

	urgent := byID["due-urgent"]
	assert.Equal(t, models.TierUrgent, urgent.Tier)
	assert.Equal(t, 5, urgent.DaysSinceCheckin)
	assert.Equal(t, 10, urgent.EffectiveInterval)
	assert.Equal(t, "Recurso JARI", urgent.ServiceName)

	attention := byID["due-attention"]
	assert.Equal(t, models.TierAttention, attention.Tier)
	assert.Equal(t, 3, attention.EffectiveInterval)
	assert.Empty(t, attention.ClientEmail)

	// closed-status was activated too; the fetch filters it by status.
	var active int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM contratos WHERE alerta_ativo AND organization_id = 'org-1'`).Scan(&active))
	assert.Equal(t, 3, active)

	var otherOrgActive bool
	require.NoError(t, db.QueryRow(`SELECT alerta_ativo FROM contratos WHERE id = 'other-org'`).Scan(&otherOrgActive))
	assert.False(t, otherOrgActive)

	// Acknowledge: lido flips, reminder moves to now + effective interval.
	ack, err := engine.Acknowledge(ctx, "org-1", "due-urgent")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 10), ack.NextReminderAt, time.Minute)
	assert.Equal(t, 1, ack.Snapshot.Counts().Unread)

	var (
		read       bool
		stillAlert bool
		lastNotice sql.NullTime
	)
	require.NoError(t, db.QueryRow(
		`SELECT lido, alerta_ativo, last_checkin_notified_at FROM contratos WHERE id = 'due-urgent'`,
	).Scan(&read, &stillAlert, &lastNotice))
	assert.True(t, read)
	assert.True(t, stillAlert)
	assert.True(t, lastNotice.Valid)

	_, err = engine.Acknowledge(ctx, "org-2", "due-urgent")
	assert.True(t, errors.Is(err, apperrors.ErrContractNotFound), "acknowledge is scoped to the organization")

	// ClearAll is idempotent and keeps the schedule.
	cleared, err := engine.ClearAll(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)

	cleared, err = engine.ClearAll(ctx, "org-1")
	require.NoError(t, err)
	assert.Zero(t, cleared)

	var next sql.NullTime
	require.NoError(t, db.QueryRow(`SELECT data_proximo_lembrete FROM contratos WHERE id = 'due-attention'`).Scan(&next))
	assert.True(t, next.Valid)

	// Still due, so the next refresh re-activates it.
	snapshot, err = engine.Refresh(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, snapshot.Alerts, 1)
	assert.Equal(t, "due-attention", snapshot.Alerts[0].ContractID)
}

// ==========================
// Wallet
// ==========================

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	db := openTestDB(t)
	rdb := newRedis(t)
	ctx := context.Background()

	mustExec(t, db, `INSERT INTO organizations (id, saldo_sacavel, saldo_bonus) VALUES ('org-1', 30, 20)`)

	ledger := wallet.NewLedger(db, rdb, nil, wallet.Config{
		BalanceCacheTTL:   time.Minute,
		MaxDeductAttempts: 20,
	}, logger.NewTestLogger(t))

	const workers = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
		other        []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Deduct(ctx, wallet.DeductRequest{
				OrganizationID: "org-1",
				UserID:         fmt.Sprintf("user-%d", i),
				Amount:         decimal.NewFromInt(10),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperrors.ErrInsufficientBalance):
				insufficient++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, insufficient)

	var spendable, bonus decimal.Decimal
	require.NoError(t, db.QueryRow(`SELECT saldo_sacavel, saldo_bonus FROM organizations WHERE id = 'org-1'`).Scan(&spendable, &bonus))
	assert.True(t, spendable.IsZero(), spendable.String())
	assert.True(t, bonus.IsZero(), bonus.String())

	var entries int
	var total decimal.Decimal
	require.NoError(t, db.QueryRow(`SELECT count(*), COALESCE(sum(valor), 0) FROM faturamento WHERE organization_id = 'org-1'`).Scan(&entries, &total))
	assert.Equal(t, 5, entries)
	assert.True(t, total.Equal(decimal.NewFromInt(-50)), total.String())
}

func TestDeductWorker_BonusFirstAgainstPostgres(t *testing.T) {
	db := openTestDB(t)
	rdb := newRedis(t)
	ctx := context.Background()

	mustExec(t, db, `INSERT INTO organizations (id, saldo_sacavel, saldo_bonus) VALUES ('org-1', 100, 20)`)

	log := logger.NewTestLogger(t)
	ledger := wallet.NewLedger(db, rdb, nil, wallet.Config{BalanceCacheTTL: time.Minute}, log)
	handler := deductbalance.NewHandler(&deductbalance.Config{Timeout: 10 * time.Second}, ledger, log)

	out, err := handler.Execute(ctx, &deductbalance.Input{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         decimal.RequireFromString("50.00"),
		Description:    "Recurso de multa",
	})
	require.NoError(t, err)

	assert.True(t, out.BonusDebited.Equal(decimal.NewFromInt(20)))
	assert.True(t, out.SpendableDebited.Equal(decimal.NewFromInt(30)))
	assert.True(t, out.SaldoSacavel.Equal(decimal.NewFromInt(70)))
	assert.True(t, out.SaldoBonus.IsZero())

	var (
		valor     decimal.Decimal
		method    string
		category  string
		entryUser string
	)
	require.NoError(t, db.QueryRow(
		`SELECT valor, metodo_pagamento, categoria, user_id FROM faturamento WHERE id = $1`, out.EntryID,
	).Scan(&valor, &method, &category, &entryUser))
	assert.True(t, valor.Equal(decimal.NewFromInt(-50)))
	assert.Equal(t, models.PaymentMethodInternalBalance, method)
	assert.Equal(t, models.DefaultBillingCategory, category)
	assert.Equal(t, "user-1", entryUser)

	_, err = handler.Execute(ctx, &deductbalance.Input{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         decimal.RequireFromString("70.01"),
	})
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientBalance))
}

func TestDeductWorker_RedeliveredJobDebitsOnce(t *testing.T) {
	db := openTestDB(t)
	rdb := newRedis(t)
	ctx := context.Background()

	mustExec(t, db, `INSERT INTO organizations (id, saldo_sacavel, saldo_bonus) VALUES ('org-1', 100, 20)`)

	log := logger.NewTestLogger(t)
	ledger := wallet.NewLedger(db, rdb, nil, wallet.Config{BalanceCacheTTL: time.Minute}, log)
	handler := deductbalance.NewHandler(&deductbalance.Config{Timeout: 10 * time.Second}, ledger, log)

	input := &deductbalance.Input{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         decimal.NewFromInt(50),
		JobKey:         2251799813685312,
	}
	first, err := handler.Execute(ctx, input)
	require.NoError(t, err)
	second, err := handler.Execute(ctx, input)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.EntryID, second.EntryID)

	var spendable, bonus decimal.Decimal
	require.NoError(t, db.QueryRow(`SELECT saldo_sacavel, saldo_bonus FROM organizations WHERE id = 'org-1'`).Scan(&spendable, &bonus))
	assert.True(t, spendable.Equal(decimal.NewFromInt(70)), spendable.String())
	assert.True(t, bonus.IsZero(), bonus.String())

	var entries int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM faturamento WHERE organization_id = 'org-1'`).Scan(&entries))
	assert.Equal(t, 1, entries)
}
