package notify

import (
	"fmt"
	"strings"

	"appeals-workers/internal/models"
)

var statusLabels = map[models.ContractStatus]string{
	models.StatusDraft:            "em elaboração",
	models.StatusFiled:            "protocolado",
	models.StatusAwaitingJudgment: "aguardando julgamento",
	models.StatusGranted:          "deferido",
	models.StatusDenied:           "indeferido",
	models.StatusPending:          "pendente",
	models.StatusSigned:           "contrato assinado",
}

func statusLabel(s models.ContractStatus) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "cliente"
	}
	return fields[0]
}

func emailSubject(a models.NotificationAlert) string {
	if a.ServiceName != "" {
		return "Acompanhamento do seu recurso: " + a.ServiceName
	}
	return "Acompanhamento do seu recurso"
}

func emailBody(a models.NotificationAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Olá, %s.\n\n", firstName(a.ClientName))
	if a.ServiceName != "" {
		fmt.Fprintf(&b, "Seu processo de %s está com status %s.\n", a.ServiceName, statusLabel(a.Status))
	} else {
		fmt.Fprintf(&b, "Seu processo está com status %s.\n", statusLabel(a.Status))
	}
	b.WriteString("Se recebeu alguma notificação do órgão autuador ou tem documentos novos, responda este e-mail.\n\n")
	b.WriteString("Equipe de recursos")
	return b.String()
}

func smsBody(a models.NotificationAlert) string {
	return fmt.Sprintf("%s, seu recurso está %s. Recebeu alguma notificação nova? Responda esta mensagem.",
		firstName(a.ClientName), statusLabel(a.Status))
}

func pick(custom, fallback string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	return fallback
}
