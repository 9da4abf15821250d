// Caminho: pkg/httpapi/jefe.go
// Resumo: Dashboard do jefe: métricas de transferências do mês (totais,
// percentual com foto, tendência contra o mês anterior, série por dia e
// quebra por técnico) e tamanho da fila de webhooks pendentes. Aceita
// ?mes=YYYY-MM para consultar meses fechados.

package httpapi

import (
    "net/http"
    "time"

    "github.com/mrapple/tech-transfers-api/internal/db"
    "github.com/mrapple/tech-transfers-api/internal/domain"
)

type dashboardDay struct {
    Day   string `json:"day"`
    Total int    `json:"total"`
}

type dashboardTecnico struct {
    Tecnico string `json:"tecnico"`
    Total   int    `json:"total"`
    ConFoto int    `json:"con_foto"`
}

// jefeDashboardHandler agrega transfer_logs. Os logs são escritos pelo
// workflow do n8n a cada transferência concluída; aqui só lemos.
func jefeDashboardHandler(w http.ResponseWriter, r *http.Request) {
    p := currentPrincipal(r)
    if p == nil || p.Rol != domain.RolJefe {
        writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "FORBIDDEN", "message": "Solo el jefe puede ver el dashboard"})
        return
    }

    now := time.Now()
    monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
    if mes := r.URL.Query().Get("mes"); mes != "" {
        parsed, err := time.ParseInLocation("2006-01", mes, now.Location())
        if err != nil {
            writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "BAD_REQUEST", "message": "Parámetro mes inválido, use YYYY-MM"})
            return
        }
        monthStart = parsed
    }
    monthEnd := monthStart.AddDate(0, 1, 0)
    prevStart := monthStart.AddDate(0, -1, 0)

    // Dias a preencher na série: meses fechados inteiros, o corrente até hoje
    lastDay := monthEnd.AddDate(0, 0, -1).Day()
    if monthStart.Year() == now.Year() && monthStart.Month() == now.Month() {
        lastDay = now.Day()
    }

    var total, withPhoto, prevTotal int

    q := db.Rebind(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN tiene_foto THEN 1 ELSE 0 END), 0) FROM transfer_logs WHERE created_at >= ? AND created_at < ?`)
    if err := sqldb.QueryRowContext(r.Context(), q, monthStart, monthEnd).Scan(&total, &withPhoto); err != nil {
        logError("dashboard totals: %v", err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error al consultar métricas"})
        return
    }
    q = db.Rebind(`SELECT COUNT(*) FROM transfer_logs WHERE created_at >= ? AND created_at < ?`)
    if err := sqldb.QueryRowContext(r.Context(), q, prevStart, monthStart).Scan(&prevTotal); err != nil {
        logError("dashboard prev month: %v", err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error al consultar métricas"})
        return
    }

    // Quebra por técnico de origem, ordenada por volume
    porTecnico := make([]dashboardTecnico, 0, 8)
    q = db.Rebind(`SELECT tecnico_origen, COUNT(*), COALESCE(SUM(CASE WHEN tiene_foto THEN 1 ELSE 0 END), 0)
        FROM transfer_logs WHERE created_at >= ? AND created_at < ?
        GROUP BY tecnico_origen ORDER BY COUNT(*) DESC, tecnico_origen`)
    trows, err := sqldb.QueryContext(r.Context(), q, monthStart, monthEnd)
    if err != nil {
        logError("dashboard por tecnico: %v", err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error al consultar métricas"})
        return
    }
    defer trows.Close()
    for trows.Next() {
        var t dashboardTecnico
        if err := trows.Scan(&t.Tecnico, &t.Total, &t.ConFoto); err != nil {
            logError("dashboard por tecnico scan: %v", err)
            writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error al consultar métricas"})
            return
        }
        porTecnico = append(porTecnico, t)
    }
    if err := trows.Err(); err != nil {
        logError("dashboard por tecnico rows: %v", err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error al consultar métricas"})
        return
    }

    // Série por dia do mês consultado. A data vem como timestamp completo e é
    // truncada aqui para não depender de funções de data de cada banco.
    q = db.Rebind(`SELECT created_at FROM transfer_logs WHERE created_at >= ? AND created_at < ? ORDER BY created_at`)
    rows, err := sqldb.QueryContext(r.Context(), q, monthStart, monthEnd)
    if err != nil {
        logError("dashboard series: %v", err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error al consultar métricas"})
        return
    }
    defer rows.Close()

    counts := map[string]int{}
    for rows.Next() {
        var ts time.Time
        if err := rows.Scan(&ts); err != nil {
            logError("dashboard series scan: %v", err)
            writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error al consultar métricas"})
            return
        }
        counts[ts.Format("2006-01-02")]++
    }
    if err := rows.Err(); err != nil {
        logError("dashboard series rows: %v", err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error al consultar métricas"})
        return
    }

    series := make([]dashboardDay, 0, lastDay)
    for d := 1; d <= lastDay; d++ {
        day := time.Date(monthStart.Year(), monthStart.Month(), d, 0, 0, 0, 0, monthStart.Location()).Format("2006-01-02")
        series = append(series, dashboardDay{Day: day, Total: counts[day]})
    }

    photoPct := 0.0
    if total > 0 {
        photoPct = float64(withPhoto) / float64(total) * 100
    }
    // Tendência percentual contra o mês anterior; sem base, fica nula
    var trend any
    if prevTotal > 0 {
        trend = (float64(total) - float64(prevTotal)) / float64(prevTotal) * 100
    }

    pending, err := notifier.PendingCount(r.Context())
    if err != nil {
        logWarn("dashboard pending webhooks: %v", err)
    }

    writeJSON(w, http.StatusOK, map[string]any{
        "success": true,
        "dashboard": map[string]any{
            "month":            monthStart.Format("2006-01"),
            "total":            total,
            "con_foto":         withPhoto,
            "con_foto_pct":     photoPct,
            "mes_anterior":     prevTotal,
            "tendencia_pct":    trend,
            "por_tecnico":      porTecnico,
            "por_dia":          series,
            "webhooks_pending": pending,
        },
    })
}
