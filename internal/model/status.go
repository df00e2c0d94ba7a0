package model

import "fmt"

type JobState string

const (
	JobIdle       JobState = "idle"
	JobUploading  JobState = "uploading"
	JobProcessing JobState = "processing"
	JobComplete   JobState = "complete"
	JobError      JobState = "error"
)

var jobTransitions = map[JobState]map[JobState]bool{
	JobIdle: {
		JobIdle:      true,
		JobUploading: true,
	},
	JobUploading: {
		JobUploading:  true,
		JobProcessing: true,
		JobError:      true,
		JobIdle:       true, // reset while the upload is in flight
	},
	JobProcessing: {
		JobProcessing: true,
		JobComplete:   true,
		JobError:      true,
		JobIdle:       true,
	},
	JobComplete: {
		JobComplete: true,
		JobIdle:     true,
	},
	JobError: {
		JobError: true,
		JobIdle:  true,
	},
}

func IsKnownJobState(state JobState) bool {
	_, ok := jobTransitions[state]
	return ok
}

func CanTransitionJob(from, to JobState) bool {
	next, ok := jobTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionJob(job *Job, to JobState) error {
	from := job.State
	if from == "" {
		from = JobIdle
	}
	if !CanTransitionJob(from, to) {
		return fmt.Errorf("invalid job state transition: %q -> %q (job_id=%s)", from, to, job.ID)
	}
	job.State = to
	return nil
}

type StreamState string

const (
	StreamInactive StreamState = "inactive"
	StreamStarting StreamState = "starting"
	StreamActive   StreamState = "active"
	StreamStopping StreamState = "stopping"
	StreamError    StreamState = "error"
)

// Client-initiated transitions only. Polled status is authoritative and is
// applied with ApplyRemoteStatus instead.
var streamTransitions = map[StreamState]map[StreamState]bool{
	StreamInactive: {
		StreamInactive: true,
		StreamStarting: true,
	},
	StreamStarting: {
		StreamActive:   true,
		StreamError:    true,
		StreamInactive: true,
	},
	StreamActive: {
		StreamActive:   true,
		StreamStopping: true,
		StreamError:    true,
	},
	StreamStopping: {
		StreamInactive: true,
		StreamActive:   true, // stop call failed; the stream is still running
	},
	StreamError: {
		StreamError:    true,
		StreamStarting: true,
		StreamStopping: true,
		StreamInactive: true,
	},
}

func CanTransitionStream(from, to StreamState) bool {
	next, ok := streamTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionStream(s *Stream, to StreamState) error {
	from := s.Status
	if from == "" {
		from = StreamInactive
	}
	if !CanTransitionStream(from, to) {
		return fmt.Errorf("invalid stream state transition: %q -> %q (stream_id=%s)", from, to, s.StreamID)
	}
	s.Status = to
	return nil
}

// ApplyRemoteStatus copies a polled status onto s. Unknown states from the
// backend are kept verbatim.
func ApplyRemoteStatus(s *Stream, st StreamStatus) {
	if st.Status != "" {
		s.Status = st.Status
	}
	s.ProcessingProgress = st.Progress
	if s.Status != StreamError {
		s.Error = ""
	}
}
