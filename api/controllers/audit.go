package controllers

import (
	"net/http"

	"github.com/angelmondragon/welfare-engine/api/responses"
	"github.com/angelmondragon/welfare-engine/api/validators"
	"github.com/angelmondragon/welfare-engine/internal/audit"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

type auditPageResponse struct {
	Entries []auditEntryResponse `json:"entries"`
	NextID  *int64               `json:"next_after,omitempty"`
}

// AuditList pages through the audit log with keyset pagination on ?after.
func AuditList(svc audit.Recorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
			return
		}
		filter, err := parseAuditFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page := auditPageResponse{Entries: make([]auditEntryResponse, 0, len(entries))}
		for _, entry := range entries {
			page.Entries = append(page.Entries, newAuditEntryResponse(entry))
		}
		if len(entries) == filter.Limit && len(entries) > 0 {
			last := entries[len(entries)-1].ID
			page.NextID = &last
		}
		responses.WriteSuccess(w, page)
	}
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	var filter audit.Filter
	var err error
	if filter.From, err = validators.ParseQueryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = validators.ParseQueryTime(r, "to"); err != nil {
		return filter, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, pkgerrors.New(pkgerrors.CodeValidation, "to must not be before from")
	}
	if filter.ItemID, err = validators.ParseQueryUUID(r, "item_id"); err != nil {
		return filter, err
	}
	if filter.ResidentID, err = validators.ParseQueryUUID(r, "resident_id"); err != nil {
		return filter, err
	}
	if raw := r.URL.Query().Get("action"); raw != "" {
		action := enums.AuditAction(raw)
		if !action.IsValid() {
			return filter, pkgerrors.New(pkgerrors.CodeValidation, "unknown audit action").WithDetails(map[string]any{"action": raw})
		}
		filter.Action = action
	}
	if filter.AfterID, err = validators.ParseQueryInt64(r, "after"); err != nil {
		return filter, err
	}
	if filter.Limit, err = validators.ParseQueryInt(r, "limit", defaultAuditLimit, 1, maxAuditLimit); err != nil {
		return filter, err
	}
	return filter, nil
}
