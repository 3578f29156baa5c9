package handler

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/service"
)

// ThresholdHandler exports the yearly 1099 report for accountant hand-off.
type ThresholdHandler struct {
	thresholds *service.ThresholdTracker
}

func NewThresholdHandler(thresholds *service.ThresholdTracker) *ThresholdHandler {
	return &ThresholdHandler{thresholds: thresholds}
}

// Report handles GET /v1/threshold-report?year=YYYY&format=csv|json.
// requires_1099=true narrows the export to users who crossed the threshold.
func (h *ThresholdHandler) Report(w http.ResponseWriter, r *http.Request) {
	year := int64(time.Now().UTC().Year())
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 2000 || parsed > 2200 {
			RespondError(w, r, http.StatusBadRequest, "validation", "year must be a four-digit year")
			return
		}
		year = parsed
	}
	onlyRequired := r.URL.Query().Get("requires_1099") == "true"

	records, err := h.thresholds.Report(r.Context(), int32(year), onlyRequired)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="threshold-report-`+strconv.FormatInt(year, 10)+`.csv"`)
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"user_id", "year", "total_paid_usd", "payout_count", "requires_1099", "last_payout_at"})
		for _, rec := range records {
			lastPayout := ""
			if rec.LastPayoutAt != nil {
				lastPayout = rec.LastPayoutAt.Format(time.RFC3339)
			}
			_ = cw.Write([]string{
				rec.UserID.String(),
				strconv.FormatInt(int64(rec.Year), 10),
				domain.FormatUSD(rec.TotalPaidUSD),
				strconv.FormatInt(int64(rec.PayoutCount), 10),
				strconv.FormatBool(rec.Requires1099),
				lastPayout,
			})
		}
		cw.Flush()
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"year": year, "records": records})
}
