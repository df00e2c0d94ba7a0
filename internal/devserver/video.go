package devserver

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"vidsight/internal/model"
)

type video struct {
	id        string
	filename  string
	size      int64
	progress  int
	logs      []string
	alerts    []model.Alert
	createdAt string
}

func (v *video) done() bool { return v.progress >= 100 }

func (v *video) status() string {
	if v.done() {
		return "completed"
	}
	return "processing"
}

// SeedVideo registers an already uploaded video at the given progress.
func (s *Server) SeedVideo(id, filename string, size int64, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.putVideoLocked(id, filename, size)
	v.progress = clampPct(progress)
}

func (s *Server) putVideoLocked(id, filename string, size int64) *video {
	if v, ok := s.videos[id]; ok {
		return v
	}
	v := &video{id: id, filename: filename, size: size, createdAt: s.stamp()}
	s.videos[id] = v
	s.videoOrder = append(s.videoOrder, id)
	return v
}

func (s *Server) uploadVideo(c echo.Context) error {
	videoID := strings.TrimSpace(c.FormValue("video_id"))
	if videoID == "" {
		return detail(c, http.StatusUnprocessableEntity, "video_id is required")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return detail(c, http.StatusBadRequest, err.Error())
	}
	defer src.Close()
	n, err := io.Copy(io.Discard, src)
	if err != nil {
		return detail(c, http.StatusBadRequest, err.Error())
	}

	s.mu.Lock()
	_, resumed := s.videos[videoID]
	v := s.putVideoLocked(videoID, fh.Filename, n)
	if resumed {
		v.logs = append(v.logs, "Resuming analysis")
	} else {
		v.logs = append(v.logs, fmt.Sprintf("Upload received: %s (%d bytes)", fh.Filename, n))
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]any{"video_id": videoID, "resumed": resumed})
}

func (s *Server) videoStatus(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[c.Param("id")]
	if !ok {
		return detail(c, http.StatusNotFound, "Video not found")
	}
	if !v.done() {
		v.progress = clampPct(v.progress + s.opts.ProgressStep)
		v.logs = append(v.logs, fmt.Sprintf("Analysed %d%% of frames", v.progress))
		if v.done() {
			v.logs = append(v.logs, "Knowledge base ready")
			frame, at := 120, 4.0
			v.alerts = append(v.alerts, model.Alert{
				ID:               uuid.NewString(),
				Description:      "Person detected near the entrance",
				FrameID:          &frame,
				Timestamp:        &at,
				IsConfirmedAlert: true,
			})
		}
	}
	return c.JSON(http.StatusOK, model.JobStatus{
		Processing: !v.done(),
		Progress:   v.progress,
		HasData:    v.done(),
	})
}

func (s *Server) videoLogs(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[c.Param("id")]
	if !ok {
		return detail(c, http.StatusNotFound, "Video not found")
	}
	logs := append([]string{}, v.logs...)
	return c.JSON(http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) askVideo(c echo.Context) error {
	var req struct {
		Question string `json:"question"`
		VideoID  string `json:"video_id"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return detail(c, http.StatusBadRequest, "Question is required")
	}
	s.mu.Lock()
	v, ok := s.videos[req.VideoID]
	ready := ok && v.done()
	s.mu.Unlock()
	if !ok {
		return detail(c, http.StatusNotFound, "Video not found")
	}
	if !ready {
		return detail(c, http.StatusConflict, "Video analysis is not complete")
	}
	answer := fmt.Sprintf("For video %s: a person was detected near the entrance. You asked: %q", req.VideoID, req.Question)
	return c.JSON(http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) listVideos(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.VideoSummary, 0, len(s.videoOrder))
	for _, id := range s.videoOrder {
		v := s.videos[id]
		out = append(out, model.VideoSummary{
			VideoID:    v.id,
			Filename:   v.filename,
			Status:     v.status(),
			AlertCount: len(v.alerts),
			CreatedAt:  v.createdAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) videoDetails(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[c.Param("id")]
	if !ok {
		return detail(c, http.StatusNotFound, "Video not found")
	}
	alerts := append([]model.Alert{}, v.alerts...)
	return c.JSON(http.StatusOK, model.VideoDetails{
		VideoID:         v.id,
		Filename:        v.filename,
		DurationSeconds: float64(v.size) / 250000,
		Resolution:      "1280x720",
		SizeBytes:       v.size,
		AlertCount:      len(alerts),
		Status:          v.status(),
		Alerts:          alerts,
		CreatedAt:       v.createdAt,
	})
}

func (s *Server) deleteVideo(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Param("id")
	if _, ok := s.videos[id]; !ok {
		return detail(c, http.StatusNotFound, "Video not found")
	}
	delete(s.videos, id)
	s.videoOrder = removeID(s.videoOrder, id)
	return c.JSON(http.StatusOK, map[string]string{"message": "Video deleted"})
}

func clampPct(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
