package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
)

// AuditEventResponse represents an audit event in HTTP response
type AuditEventResponse struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	UserID    *string                `json:"user_id,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Success   bool                   `json:"success"`
	RiskLevel string                 `json:"risk_level"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// QueryAudit handles GET /admin/audit.
// Filters: user_id, event_type, ip, risk_level (comma separated), from, to
// (RFC 3339), limit, offset.
func (h *AdminHandler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	events, total, err := h.service.QueryAudit(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	response := make([]*AuditEventResponse, len(events))
	for i, e := range events {
		response[i] = auditEventToResponse(e)
	}

	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": response,
		"total":  total,
		"offset": filter.Offset,
	})
}

func parseAuditFilter(q url.Values) (models.AuditFilter, error) {
	filter := models.AuditFilter{
		UserID:    q.Get("user_id"),
		EventType: q.Get("event_type"),
		IPAddress: q.Get("ip"),
	}

	if levels := q.Get("risk_level"); levels != "" {
		for _, l := range strings.Split(levels, ",") {
			filter.RiskLevels = append(filter.RiskLevels, models.RiskLevel(strings.TrimSpace(l)))
		}
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("%s must be an RFC 3339 timestamp", p.name)
		}
		*p.dst = &t
	}

	var err error
	if filter.Limit, err = intParam(q, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = intParam(q, "offset"); err != nil {
		return filter, err
	}

	return filter, nil
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// auditEventToResponse converts an audit event model to a response DTO
func auditEventToResponse(e *models.AuditEvent) *AuditEventResponse {
	return &AuditEventResponse{
		ID:        e.ID,
		EventType: e.EventType,
		UserID:    e.UserID,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Success:   e.Success,
		RiskLevel: string(e.RiskLevel),
		Details:   e.Details,
		Timestamp: e.Timestamp.UTC().Format(timeFormat),
	}
}
