package output

import (
	"strconv"
	"time"

	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/truncate"
)

const (
	timeLayout = "2006-01-02 15:04:05"

	// maxListedHosts unhealthy hosts are named in a table row.
	maxListedHosts = 3
)

var messageTruncator = truncate.NewTruncator(100)

// StatusTable lays out scheduler status, one row per target.
func StatusTable(statuses []contracts.TargetStatus) ([]string, [][]string) {
	headers := []string{"TARGET", "HOST", "STATE", "SINCE", "EVALUATIONS", "MESSAGE"}
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		state, message := "-", "-"
		if st.Latest != nil {
			state = string(st.Latest.State)
			message = messageTruncator.Truncate(firstOr(st.Latest.Messages, "-"))
		}
		if st.LastSkipped != nil {
			message = "skipped at " + st.LastSkipped.Local().Format(timeLayout)
		}
		since := "-"
		if st.StateSince != nil {
			since = st.StateSince.Local().Format(timeLayout)
		}
		rows = append(rows, []string{
			st.Target,
			st.HostName,
			state,
			since,
			strconv.Itoa(st.Evaluations),
			message,
		})
	}
	return headers, rows
}

// RecordTable lays out history records in the order given.
func RecordTable(records []*contracts.AlertRecord) ([]string, [][]string) {
	headers := []string{"TIME", "TARGET", "STATE", "STAGE", "DURATION", "MESSAGE"}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		message := messageTruncator.Truncate(firstOr(r.Messages, "-"))
		if len(r.UnhealthyHosts) > 0 {
			message += " (" + truncate.List(r.UnhealthyHosts, maxListedHosts) + ")"
		}
		state := string(r.State)
		if r.Skipped {
			state = "SKIPPED"
		}
		rows = append(rows, []string{
			r.Timestamp.Local().Format(timeLayout),
			r.Target,
			state,
			r.Stage,
			r.Duration.Round(time.Millisecond).String(),
			message,
		})
	}
	return headers, rows
}

func firstOr(messages []string, fallback string) string {
	if len(messages) == 0 || messages[0] == "" {
		return fallback
	}
	return messages[0]
}
