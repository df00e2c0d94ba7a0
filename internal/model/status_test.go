package model

import "testing"

func TestCanTransitionJob_AllowsExpectedPaths(t *testing.T) {
	cases := []struct {
		from JobState
		to   JobState
	}{
		{JobIdle, JobUploading},
		{JobUploading, JobProcessing},
		{JobUploading, JobError},
		{JobProcessing, JobComplete},
		{JobProcessing, JobError},
		{JobComplete, JobIdle},
		{JobError, JobIdle},
	}

	for _, tc := range cases {
		if !CanTransitionJob(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransitionJob_RejectsInvalidPaths(t *testing.T) {
	cases := []struct {
		from JobState
		to   JobState
	}{
		{JobIdle, JobProcessing},
		{JobIdle, JobComplete},
		{JobComplete, JobProcessing},
		{JobError, JobUploading},
		{"not_a_state", JobIdle},
	}

	for _, tc := range cases {
		if CanTransitionJob(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionJob_EmptyStateIsIdle(t *testing.T) {
	job := Job{ID: "video_1_1"}
	if err := TransitionJob(&job, JobUploading); err != nil {
		t.Fatalf("expected idle -> uploading, got %v", err)
	}
	if err := TransitionJob(&job, JobComplete); err == nil {
		t.Fatalf("expected uploading -> complete to be rejected")
	}
}

func TestTransitionStream_StopFailureRevertsToActive(t *testing.T) {
	s := Stream{StreamID: "stream_1", Status: StreamActive}
	if err := TransitionStream(&s, StreamStopping); err != nil {
		t.Fatal(err)
	}
	if err := TransitionStream(&s, StreamActive); err != nil {
		t.Fatalf("expected stopping -> active to be allowed, got %v", err)
	}
	if err := TransitionStream(&s, StreamStarting); err == nil {
		t.Fatalf("expected active -> starting to be rejected")
	}
}

func TestApplyRemoteStatusOverridesLocalState(t *testing.T) {
	s := Stream{StreamID: "stream_1", Status: StreamStarting, Error: "boom"}
	ApplyRemoteStatus(&s, StreamStatus{Status: StreamActive, Progress: 40})
	if s.Status != StreamActive || s.ProcessingProgress != 40 {
		t.Fatalf("unexpected stream after apply: %+v", s)
	}
	if s.Error != "" {
		t.Fatalf("expected error to clear on active status, got %q", s.Error)
	}
}

func TestLogEntryTimeParsesNaiveTimestamps(t *testing.T) {
	e := LogEntry{CreatedAt: "2024-03-01T10:11:12.123456"}
	ts, ok := e.Time()
	if !ok {
		t.Fatal("expected naive timestamp to parse")
	}
	if ts.Year() != 2024 || ts.Second() != 12 {
		t.Fatalf("unexpected time %v", ts)
	}
	if _, ok := (LogEntry{CreatedAt: "yesterday"}).Time(); ok {
		t.Fatal("expected garbage timestamp to be rejected")
	}
}
