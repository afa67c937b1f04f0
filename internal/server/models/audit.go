package models

import "time"

// AuditLog is a persisted audit record.
type AuditLog struct {
	ID           int64          `json:"id"`
	UserID       *string        `json:"userId"`
	Username     *string        `json:"username,omitempty"`
	Email        *string        `json:"email,omitempty"`
	Action       string         `json:"action"`
	ResourceType *string        `json:"resourceType"`
	ResourceID   *string        `json:"resourceId"`
	Details      map[string]any `json:"details"`
	IPAddress    string         `json:"ipAddress"`
	UserAgent    string         `json:"userAgent"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// AuditFilter narrows an audit log listing. Zero values mean "any".
type AuditFilter struct {
	UserID    string
	Action    string
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// AuditPage is one page of audit logs with the total number of matches.
type AuditPage struct {
	Logs   []AuditLog `json:"logs"`
	Total  int64      `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// CountByKey is a grouped count used by audit statistics.
type CountByKey struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// AuditStats summarises audit activity over the last PeriodDays days.
type AuditStats struct {
	PeriodDays      int          `json:"periodDays"`
	Total           int64        `json:"total"`
	ActionTypes     []CountByKey `json:"actionTypes"`
	UserActions     []CountByKey `json:"userActions"`
	StatusBreakdown []CountByKey `json:"statusBreakdown"`
	DailyActivity   []CountByKey `json:"dailyActivity"`
}
