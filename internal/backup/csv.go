package backup

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/example/session-timer/internal/session"
)

// CSVHeader is the header row of the CSV export.
var CSVHeader = []string{"Name", "Check-in Time", "Status", "Duration", "End Time"}

// WriteCSV writes one row per session.
func WriteCSV(w io.Writer, sessions []session.Session) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, s := range sessions {
		row := []string{
			s.Name,
			s.CheckInTime,
			string(s.Status),
			strconv.Itoa(s.Interval.Duration),
			session.FormatCheckIn(s.Interval.EndTime),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row for %s: %w", s.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
