package streamlog

import (
	"sort"
	"strings"
	"time"

	"vidsight/internal/model"
)

const excerptLen = 100

var activityKeywords = []string{"detected", "observed", "recognized"}

// Extract summarizes a log snapshot. The input slice is not reordered.
func Extract(logs []model.LogEntry) model.StreamMetrics {
	var m model.StreamMetrics
	if len(logs) == 0 {
		return m
	}
	m.TotalLogs = len(logs)

	for _, entry := range logs {
		switch entry.LogType {
		case model.LogTypeError:
			m.ErrorCount++
		case model.LogTypeWarning:
			m.WarningCount++
		}
		if entry.FrameID != nil && *entry.FrameID > m.FramesProcessed {
			m.FramesProcessed = *entry.FrameID
		}
	}

	latest := Latest(logs)
	if ts, ok := latest.Time(); ok {
		m.LastProcessedTime = &ts
	}
	if activity, ok := Activity(latest.Message); ok {
		m.RecentActivity = &activity
	}
	return m
}

// Latest returns the entry with the newest timestamp. Entries whose
// timestamp does not parse sort last; ties keep arrival order.
func Latest(logs []model.LogEntry) model.LogEntry {
	if len(logs) == 0 {
		return model.LogEntry{}
	}
	sorted := SortNewestFirst(logs)
	return sorted[0]
}

// SortNewestFirst returns a copy of logs ordered by timestamp, newest first.
func SortNewestFirst(logs []model.LogEntry) []model.LogEntry {
	type keyed struct {
		entry model.LogEntry
		ts    time.Time
		ok    bool
	}
	rows := make([]keyed, len(logs))
	for i, entry := range logs {
		ts, ok := entry.Time()
		rows[i] = keyed{entry: entry, ts: ts, ok: ok}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ok != rows[j].ok {
			return rows[i].ok
		}
		return rows[i].ts.After(rows[j].ts)
	})
	out := make([]model.LogEntry, len(rows))
	for i, row := range rows {
		out[i] = row.entry
	}
	return out
}

// Activity picks a readable excerpt from a log message. Messages that mention
// a detection yield their first detection sentence; anything else is cut to a
// fixed-length prefix.
func Activity(message string) (string, bool) {
	if message == "" {
		return "", false
	}
	lower := strings.ToLower(message)
	if strings.Contains(lower, "detected") || strings.Contains(lower, "observed") {
		for _, sentence := range strings.Split(message, ". ") {
			if containsAny(strings.ToLower(sentence), activityKeywords) {
				return sentence, true
			}
		}
	}
	return prefix(message, excerptLen) + "...", true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
