package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"appeals-workers/internal/models"
)

var openStatusList = func() string {
	quoted := make([]string, len(models.OpenStatuses))
	for i, s := range models.OpenStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}()

const activateQuery = `
	UPDATE contratos c
	SET alerta_ativo = true, lido = false
	FROM clientes cl
	WHERE cl.id = c.cliente_id
	  AND cl.ativo = true
	  AND c.organization_id = $1
	  AND c.lembrete_ativado = true
	  AND c.alerta_ativo = false
	  AND c.data_proximo_lembrete <= $2`

var fetchQuery = fmt.Sprintf(`
	SELECT c.id, c.cliente_id, c.status, c.lido, c.intervalo_notificacao,
	       c.data_proximo_lembrete, c.created_at,
	       cl.nome, COALESCE(cl.email, ''), COALESCE(cl.telefone, ''),
	       COALESCE(s.nome, ''), o.intervalo_notificacao
	FROM contratos c
	JOIN clientes cl ON cl.id = c.cliente_id
	JOIN organizations o ON o.id = c.organization_id
	LEFT JOIN servicos s ON s.id = c.servico_id
	WHERE c.organization_id = $1
	  AND c.alerta_ativo = true
	  AND cl.ativo = true
	  AND c.status IN (%s)`, openStatusList)

const intervalQuery = `
	SELECT c.intervalo_notificacao, o.intervalo_notificacao
	FROM contratos c
	JOIN organizations o ON o.id = c.organization_id
	WHERE c.id = $1 AND c.organization_id = $2`

const acknowledgeQuery = `
	UPDATE contratos
	SET last_checkin_notified_at = $1,
	    data_ultima_notificacao = $1,
	    data_proximo_lembrete = $2,
	    lido = true
	WHERE id = $3 AND organization_id = $4`

const clearQuery = `
	UPDATE contratos
	SET alerta_ativo = false, lido = false
	WHERE organization_id = $1 AND alerta_ativo = true`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func activate(ctx context.Context, q querier, organizationID string, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, activateQuery, organizationID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func fetchActive(ctx context.Context, q querier, organizationID string) ([]alertRow, error) {
	rows, err := q.QueryContext(ctx, fetchQuery, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alertRow
	for rows.Next() {
		var (
			r                             alertRow
			status                        string
			contractInterval, orgInterval sql.NullInt64
			nextReminder                  sql.NullTime
		)
		if err := rows.Scan(
			&r.ContractID, &r.ClientID, &status, &r.Read, &contractInterval,
			&nextReminder, &r.CreatedAt,
			&r.ClientName, &r.ClientEmail, &r.ClientPhone,
			&r.ServiceName, &orgInterval,
		); err != nil {
			return nil, err
		}
		r.Status = models.ContractStatus(status)
		r.ContractInterval = nullInt(contractInterval)
		r.OrgInterval = nullInt(orgInterval)
		if nextReminder.Valid {
			t := nextReminder.Time
			r.NextReminderAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// intervals returns the contract override and organization default for contractID.
// sql.ErrNoRows means the contract does not exist in the organization.
func intervals(ctx context.Context, q querier, organizationID, contractID string) (contractInterval, orgInterval *int, err error) {
	var c, o sql.NullInt64
	if err := q.QueryRowContext(ctx, intervalQuery, contractID, organizationID).Scan(&c, &o); err != nil {
		return nil, nil, err
	}
	return nullInt(c), nullInt(o), nil
}

func markAcknowledged(ctx context.Context, q querier, organizationID, contractID string, now, next time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, acknowledgeQuery, now, next, contractID, organizationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func clearActive(ctx context.Context, q querier, organizationID string) (int64, error) {
	res, err := q.ExecContext(ctx, clearQuery, organizationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
