package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
)

type pagination struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Pages  int64 `json:"pages"`
}

type auditListResponse struct {
	Success    bool              `json:"success"`
	Logs       []models.AuditLog `json:"logs"`
	Pagination pagination        `json:"pagination"`
}

func pages(total int64, limit int) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}

func queryInt(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &common.ValidationError{Field: name, Message: fmt.Sprintf("%s must be an integer", name)}
	}
	return n, nil
}

// queryTime accepts RFC 3339 timestamps and plain dates.
func queryTime(q url.Values, name string) (*time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, &common.ValidationError{Field: name, Message: fmt.Sprintf("%s must be a date", name)}
}

func parseAuditFilter(q url.Values) (models.AuditFilter, error) {
	f := models.AuditFilter{
		UserID: q.Get("userId"),
		Action: q.Get("action"),
		Status: q.Get("status"),
	}

	var err error
	if f.Limit, err = queryInt(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(q, "offset"); err != nil {
		return f, err
	}
	if f.StartDate, err = queryTime(q, "startDate"); err != nil {
		return f, err
	}
	if f.EndDate, err = queryTime(q, "endDate"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *HTTPServer) listAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.audit.List(r.Context(), identityFrom(r.Context()), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logs := page.Logs
	if logs == nil {
		logs = []models.AuditLog{}
	}

	writeJSON(w, http.StatusOK, auditListResponse{
		Success: true,
		Logs:    logs,
		Pagination: pagination{
			Total:  page.Total,
			Limit:  page.Limit,
			Offset: page.Offset,
			Pages:  pages(page.Total, page.Limit),
		},
	})
}

type statsView struct {
	*models.AuditStats
	Period string `json:"period"`
}

func (s *HTTPServer) auditStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r.URL.Query(), "days")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	stats, err := s.audit.Stats(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool      `json:"success"`
		Stats   statsView `json:"stats"`
	}{true, statsView{stats, fmt.Sprintf("%d days", stats.PeriodDays)}})
}
