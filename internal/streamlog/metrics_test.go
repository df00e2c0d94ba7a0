package streamlog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsight/internal/model"
)

func frame(n int) *int { return &n }

func TestExtractEmpty(t *testing.T) {
	for _, logs := range [][]model.LogEntry{nil, {}} {
		m := Extract(logs)
		assert.Equal(t, model.StreamMetrics{}, m)
		assert.Nil(t, m.LastProcessedTime)
		assert.Nil(t, m.RecentActivity)
	}
}

func TestExtractCountsAndMaxFrame(t *testing.T) {
	logs := []model.LogEntry{
		{CreatedAt: "2024-05-01T10:00:00Z", Message: "decoder stalled", LogType: model.LogTypeError, FrameID: frame(2)},
		{CreatedAt: "2024-05-01T10:00:02Z", Message: "low light", LogType: model.LogTypeWarning, FrameID: frame(5)},
		{CreatedAt: "2024-05-01T10:00:01Z", Message: "frame ok", LogType: model.LogTypeInfo, FrameID: frame(3)},
	}

	m := Extract(logs)
	assert.Equal(t, 3, m.TotalLogs)
	assert.Equal(t, 1, m.ErrorCount)
	assert.Equal(t, 1, m.WarningCount)
	assert.Equal(t, 5, m.FramesProcessed)

	require.NotNil(t, m.LastProcessedTime)
	assert.Equal(t, 2, m.LastProcessedTime.Second())
	require.NotNil(t, m.RecentActivity)
	assert.Equal(t, "low light...", *m.RecentActivity)

	assert.Equal(t, "decoder stalled", logs[0].Message, "input order must not change")
}

func TestExtractPrefersDetectionSentence(t *testing.T) {
	logs := []model.LogEntry{
		{CreatedAt: "2024-05-01 10:00:00", Message: "Frame analysed. A person was detected near the gate. Light is low"},
	}
	m := Extract(logs)
	require.NotNil(t, m.RecentActivity)
	assert.Equal(t, "A person was detected near the gate", *m.RecentActivity)
}

func TestExtractMalformedTimestamps(t *testing.T) {
	logs := []model.LogEntry{
		{CreatedAt: "not a time", Message: "first"},
		{CreatedAt: "", Message: "second"},
	}
	m := Extract(logs)
	assert.Equal(t, 2, m.TotalLogs)
	assert.Nil(t, m.LastProcessedTime)
	require.NotNil(t, m.RecentActivity)
	assert.Equal(t, "first...", *m.RecentActivity)
}

func TestActivityTruncatesLongMessages(t *testing.T) {
	msg := strings.Repeat("é", 150)
	got, ok := Activity(msg)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("é", 100)+"...", got)

	_, ok = Activity("")
	assert.False(t, ok)
}

func TestSortNewestFirstKeepsUnparsedLast(t *testing.T) {
	logs := []model.LogEntry{
		{CreatedAt: "??", Message: "a"},
		{CreatedAt: "2024-01-01T00:00:00Z", Message: "b"},
		{CreatedAt: "2024-01-02T00:00:00Z", Message: "c"},
	}
	sorted := SortNewestFirst(logs)
	got := []string{sorted[0].Message, sorted[1].Message, sorted[2].Message}
	assert.Equal(t, []string{"c", "b", "a"}, got)
}
