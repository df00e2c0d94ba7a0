package cli

import (
	"fmt"
	"strings"

	"vidsight/internal/library"
	"vidsight/internal/model"
	"vidsight/internal/streamtrack"
)

func describeStream(s model.Stream) string {
	line := fmt.Sprintf("%s  %-8s  %s  alerts=%d", s.StreamID, s.Status, s.Name, s.AlertCount)
	if s.Status == model.StreamActive || s.ProcessingProgress > 0 {
		line += fmt.Sprintf("  progress=%d%%", s.ProcessingProgress)
	}
	if s.Error != "" {
		line += "  error: " + s.Error
	}
	return line
}

func describeMetrics(m model.StreamMetrics) string {
	last := "-"
	if m.LastProcessedTime != nil {
		last = m.LastProcessedTime.Local().Format("15:04:05")
	}
	line := fmt.Sprintf("logs=%d errors=%d warnings=%d frames=%d last=%s",
		m.TotalLogs, m.ErrorCount, m.WarningCount, m.FramesProcessed, last)
	if m.RecentActivity != nil {
		line += "  activity: " + *m.RecentActivity
	}
	return line
}

func describeLogEntry(e model.LogEntry) string {
	ts := e.CreatedAt
	if t, ok := e.Time(); ok {
		ts = t.Local().Format("15:04:05")
	}
	kind := e.LogType
	if kind == "" {
		kind = model.LogTypeInfo
	}
	line := fmt.Sprintf("%s [%s] %s", ts, kind, e.Message)
	if e.FrameID != nil {
		line += fmt.Sprintf(" (frame %d)", *e.FrameID)
	}
	return line
}

// streamDetailLines renders a stream detail with at most maxLogs log lines,
// newest first.
func streamDetailLines(d streamtrack.Detail, maxLogs int) []string {
	s := d.Stream
	lines := []string{
		fmt.Sprintf("%s (%s)", s.Name, s.StreamID),
		fmt.Sprintf("status: %s  progress: %d%%  alerts: %d", s.Status, s.ProcessingProgress, s.AlertCount),
		"playback: " + s.PlaybackURL,
		"metrics: " + describeMetrics(d.Metrics),
	}
	if s.Error != "" {
		lines = append(lines, "error: "+s.Error)
	}
	if len(d.Logs) == 0 {
		return append(lines, "logs: (none)")
	}
	lines = append(lines, "logs:")
	for i, e := range d.Logs {
		if maxLogs > 0 && i >= maxLogs {
			lines = append(lines, fmt.Sprintf("  ... %d more", len(d.Logs)-maxLogs))
			break
		}
		lines = append(lines, "  "+describeLogEntry(e))
	}
	return lines
}

func describeVideo(v model.VideoSummary) string {
	name := v.Filename
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s  %-10s  %s  alerts=%d", v.VideoID, v.Status, name, v.AlertCount)
}

func videoDetailLines(d library.Detail, maxLogs int) []string {
	v := d.Details
	lines := []string{
		fmt.Sprintf("%s (%s)", v.Filename, v.VideoID),
		fmt.Sprintf("status: %s  duration: %s  resolution: %s  size: %s",
			v.Status, library.FormatDuration(v.DurationSeconds), orDash(v.Resolution), library.FormatBytes(v.SizeBytes, 2)),
	}
	if v.CreatedAt != "" {
		lines = append(lines, "uploaded: "+v.CreatedAt)
	}
	confirmed := v.ConfirmedAlerts()
	lines = append(lines, fmt.Sprintf("alerts: %d (%d confirmed)", v.AlertCount, len(confirmed)))
	for _, a := range confirmed {
		line := fmt.Sprintf("  %s  %s", library.FormatAlertTime(a.Timestamp), a.Description)
		if a.FrameID != nil {
			line += fmt.Sprintf(" (frame %d)", *a.FrameID)
		}
		lines = append(lines, line)
	}
	if len(d.Logs) == 0 {
		return lines
	}
	lines = append(lines, "logs:")
	start := 0
	if maxLogs > 0 && len(d.Logs) > maxLogs {
		start = len(d.Logs) - maxLogs
	}
	for _, l := range d.Logs[start:] {
		lines = append(lines, "  "+strings.TrimSpace(l))
	}
	return lines
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
