package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"vidsight/internal/model"
)

type stream struct {
	record model.Stream
	logs   []model.LogEntry
	frame  int
}

// SeedStream adds a stream as if it had been registered.
func (s *Server) SeedStream(rec model.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Status == "" {
		rec.Status = model.StreamInactive
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = s.stamp()
	}
	if _, ok := s.streams[rec.StreamID]; !ok {
		s.streamOrder = append(s.streamOrder, rec.StreamID)
	}
	s.streams[rec.StreamID] = &stream{record: rec}
}

// AddStreamLog appends entry to a stream's log.
func (s *Server) AddStreamLog(id string, entry model.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[id]; ok {
		st.logs = append(st.logs, entry)
	}
}

// SetStreamStatus overrides the status the next poll will report.
func (s *Server) SetStreamStatus(id string, status model.StreamState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[id]; ok {
		st.record.Status = status
	}
}

func (s *Server) registerStream(c echo.Context) error {
	var req struct {
		Name     string `json:"name"`
		IVSURL   string `json:"ivs_url"`
		StreamID string `json:"stream_id"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.IVSURL) == "" {
		return detail(c, http.StatusUnprocessableEntity, "ivs_url is required")
	}
	id := strings.TrimSpace(req.StreamID)
	if id == "" {
		id = "stream_" + uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.streams[id]; exists {
		return detail(c, http.StatusConflict, fmt.Sprintf("Stream %s already exists", id))
	}
	rec := model.Stream{
		StreamID:  id,
		Name:      req.Name,
		IVSURL:    req.IVSURL,
		Status:    model.StreamInactive,
		CreatedAt: s.stamp(),
	}
	s.streams[id] = &stream{record: rec}
	s.streamOrder = append(s.streamOrder, id)
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) listStreams(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Stream, 0, len(s.streamOrder))
	for _, id := range s.streamOrder {
		out = append(out, s.streams[id].record)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getStream(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[c.Param("id")]
	if !ok {
		return detail(c, http.StatusNotFound, "Stream not found")
	}
	return c.JSON(http.StatusOK, st.record)
}

func (s *Server) startStream(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[c.Param("id")]
	if !ok {
		return detail(c, http.StatusNotFound, "Stream not found")
	}
	st.record.Status = model.StreamActive
	st.record.ProcessingProgress = 0
	st.logs = append(st.logs, model.LogEntry{CreatedAt: s.stamp(), Message: "Stream processing started", LogType: model.LogTypeInfo})
	return c.JSON(http.StatusOK, map[string]string{"message": "Stream processing started"})
}

func (s *Server) stopStream(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[c.Param("id")]
	if !ok {
		return detail(c, http.StatusNotFound, "Stream not found")
	}
	st.record.Status = model.StreamInactive
	st.logs = append(st.logs, model.LogEntry{CreatedAt: s.stamp(), Message: "Stream processing stopped", LogType: model.LogTypeInfo})
	return c.JSON(http.StatusOK, map[string]string{"message": "Stream processing stopped"})
}

func (s *Server) streamStatus(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[c.Param("id")]
	if !ok {
		return detail(c, http.StatusNotFound, "Stream not found")
	}
	if st.record.Status == model.StreamActive && st.record.ProcessingProgress < 100 {
		st.record.ProcessingProgress = clampPct(st.record.ProcessingProgress + s.opts.ProgressStep)
	}
	return c.JSON(http.StatusOK, model.StreamStatus{
		Status:   st.record.Status,
		Progress: st.record.ProcessingProgress,
	})
}

// streamLogs appends one synthetic analysis entry per read while the stream
// is active, then returns the whole snapshot.
func (s *Server) streamLogs(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[c.Param("id")]
	if !ok {
		return detail(c, http.StatusNotFound, "Stream not found")
	}
	if st.record.Status == model.StreamActive {
		st.frame += 30
		frame := st.frame
		entry := model.LogEntry{
			CreatedAt: s.stamp(),
			Message:   fmt.Sprintf("Frame %d analysed. A person was detected near the entrance.", frame),
			LogType:   model.LogTypeInfo,
			FrameID:   &frame,
		}
		if frame%150 == 0 {
			entry.LogType = model.LogTypeWarning
			entry.Message = fmt.Sprintf("Frame %d analysed. Low light observed, confidence reduced.", frame)
		}
		st.logs = append(st.logs, entry)
		if st.record.AlertCount < len(st.logs)/3 {
			st.record.AlertCount++
		}
	}
	logs := append([]model.LogEntry{}, st.logs...)
	if s.opts.LogsAsString {
		data, err := json.Marshal(logs)
		if err != nil {
			return detail(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]any{"logs": string(data)})
	}
	return c.JSON(http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) updateStream(c echo.Context) error {
	var req struct {
		IVSURL string `json:"ivs_url"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.IVSURL) == "" {
		return detail(c, http.StatusUnprocessableEntity, "ivs_url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[c.Param("id")]
	if !ok {
		return detail(c, http.StatusNotFound, "Stream not found")
	}
	st.record.IVSURL = req.IVSURL
	return c.JSON(http.StatusOK, st.record)
}

func (s *Server) askStream(c echo.Context) error {
	var req struct {
		Query string `json:"query"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return detail(c, http.StatusBadRequest, "Query is required")
	}
	s.mu.Lock()
	st, ok := s.streams[c.Param("id")]
	var frames int
	if ok {
		frames = st.frame
	}
	s.mu.Unlock()
	if !ok {
		return detail(c, http.StatusNotFound, "Stream not found")
	}
	answer := fmt.Sprintf("In stream %s I have analysed %d frames; a person was observed near the entrance.", c.Param("id"), frames)
	return c.JSON(http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) deleteStream(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Param("id")
	if _, ok := s.streams[id]; !ok {
		return detail(c, http.StatusNotFound, "Stream not found")
	}
	delete(s.streams, id)
	s.streamOrder = removeID(s.streamOrder, id)
	return c.JSON(http.StatusOK, map[string]string{"message": "Stream deleted"})
}
