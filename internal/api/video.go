package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"vidsight/internal/model"
)

// ProgressFunc receives the number of file bytes sent so far and the file
// size.
type ProgressFunc func(sent, total int64)

// UploadVideo streams the file at path as multipart field "file" together
// with the client-generated video id, and starts analysis.
func (c *Client) UploadVideo(ctx context.Context, videoID, path string, progress ProgressFunc) (model.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.UploadResult{}, fmt.Errorf("open upload %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return model.UploadResult{}, fmt.Errorf("stat upload %s: %w", path, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pw.CloseWithError(writeUploadBody(mw, f, filepath.Base(path), videoID, info.Size(), progress))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("video", "upload"), pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		wg.Wait()
		return model.UploadResult{}, err
	}

	var out model.UploadResult
	err = c.send(req, &out)
	pr.CloseWithError(io.ErrClosedPipe)
	wg.Wait()
	if err != nil {
		return model.UploadResult{}, err
	}
	return out, nil
}

func writeUploadBody(mw *multipart.Writer, src io.Reader, name, videoID string, size int64, progress ProgressFunc) error {
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, &countingReader{r: src, total: size, fn: progress}); err != nil {
		return err
	}
	if err := mw.WriteField("video_id", videoID); err != nil {
		return err
	}
	return mw.Close()
}

type countingReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.fn != nil {
			c.fn(c.sent, c.total)
		}
	}
	return n, err
}

func (c *Client) JobStatus(ctx context.Context, videoID string) (model.JobStatus, error) {
	var out model.JobStatus
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("video", videoID, "status"), nil, &out); err != nil {
		return model.JobStatus{}, err
	}
	return out, nil
}

// JobLogs returns the full log snapshot for a video. Non-string entries are
// kept as their raw JSON text.
func (c *Client) JobLogs(ctx context.Context, videoID string) ([]string, error) {
	var payload struct {
		Logs []json.RawMessage `json:"logs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("video", videoID, "logs"), nil, &payload); err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(payload.Logs))
	for _, raw := range payload.Logs {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			lines = append(lines, s)
			continue
		}
		lines = append(lines, string(raw))
	}
	return lines, nil
}

type answerResponse struct {
	Answer string `json:"answer"`
}

func (c *Client) AskVideo(ctx context.Context, videoID, question string) (string, error) {
	in := struct {
		Question string `json:"question"`
		VideoID  string `json:"video_id"`
	}{Question: question, VideoID: videoID}
	var out answerResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("video", "chat"), in, &out); err != nil {
		return "", err
	}
	return out.Answer, nil
}

func (c *Client) Videos(ctx context.Context) ([]model.VideoSummary, error) {
	var out []model.VideoSummary
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("video", "all"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VideoDetails(ctx context.Context, videoID string) (model.VideoDetails, error) {
	var out model.VideoDetails
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("video", videoID, "details"), nil, &out); err != nil {
		return model.VideoDetails{}, err
	}
	return out, nil
}

func (c *Client) DeleteVideo(ctx context.Context, videoID string) error {
	return c.doJSON(ctx, http.MethodDelete, c.endpoint("video", videoID), nil, nil)
}
