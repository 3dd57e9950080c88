// Package dashboard computes the usage summary shown on a user's dashboard.
package dashboard

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/labstats"
)

// ZeroAverage is shown as the average when there are no labs.
const ZeroAverage = "0s"

const dateLayout = "2006-01-02"

// Profile is the header of the dashboard.
type Profile struct {
	Username    string `json:"username"`
	Initial     string `json:"initial"`
	Email       string `json:"email"`
	MemberSince string `json:"memberSince"`
}

// Row is one line of the lab activity table.
type Row struct {
	LabName      string `json:"labName"`
	Category     string `json:"category"`
	Seconds      int64  `json:"seconds"`
	TimeSpent    string `json:"timeSpent"`
	LastAccessed string `json:"lastAccessed"`
	Status       string `json:"status"`
}

// Summary holds everything the dashboard renders.
type Summary struct {
	Profile      Profile `json:"profile"`
	LabCount     int     `json:"labCount"`
	TotalSeconds int64   `json:"totalSeconds"`
	Total        string  `json:"total"`
	Average      string  `json:"average"`
	Rows         []Row   `json:"rows"`
	Empty        bool    `json:"empty"`
}

// Total returns the sum of time spent across records.
func Total(records []labstats.Record) int64 {
	var total int64
	for _, r := range records {
		total += r.TimeSpent
	}
	return total
}

// Average returns the floored mean time per lab, formatted, or ZeroAverage
// when records is empty.
func Average(records []labstats.Record) string {
	if len(records) == 0 {
		return ZeroAverage
	}
	return FormatDuration(Total(records) / int64(len(records)))
}

// FormatDuration renders seconds as "Hh Mm Ss", dropping leading zero
// units. Negative values render as zero.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// Build summarizes records for user. The records are not modified.
func Build(user identity.Record, records []labstats.Record) Summary {
	total := Total(records)

	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			LabName:      r.LabName,
			Category:     r.Category,
			Seconds:      r.TimeSpent,
			TimeSpent:    FormatDuration(r.TimeSpent),
			LastAccessed: formatDate(r.LastAccessed),
			Status:       "Completed",
		})
	}

	return Summary{
		Profile:      profile(user),
		LabCount:     len(records),
		TotalSeconds: total,
		Total:        FormatDuration(total),
		Average:      Average(records),
		Rows:         rows,
		Empty:        len(records) == 0,
	}
}

func profile(user identity.Record) Profile {
	p := Profile{
		Username: user.Username,
		Email:    user.Email,
	}
	if r, _ := utf8.DecodeRuneInString(user.Username); r != utf8.RuneError {
		p.Initial = string(unicode.ToUpper(r))
	}
	if !user.Created.IsZero() {
		p.MemberSince = user.Created.Format(dateLayout)
	}
	return p
}

func formatDate(stamp string) string {
	stamp = strings.TrimSpace(stamp)
	if stamp == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return ""
	}
	return t.Format(dateLayout)
}
