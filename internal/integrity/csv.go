package integrity

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// csvHeader is the column order of the delimited export.
var csvHeader = []string{
	"id",
	"handle",
	"display_name",
	"status",
	"balance",
	"points",
	"total_earnings",
	"referrer_handle",
	"issue_kind",
	"severity",
	"created_at",
}

// WriteCSV writes one row per finding.
func WriteCSV(w io.Writer, report *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range report.Findings {
		record := []string{
			strconv.FormatUint(f.MemberID, 10),
			f.Handle,
			f.DisplayName,
			string(f.Status),
			f.Balance.StringFixed(2),
			strconv.FormatInt(f.Points, 10),
			f.TotalEarnings.StringFixed(2),
			f.ReferrerHandle,
			string(f.Kind),
			string(f.Severity),
			f.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
