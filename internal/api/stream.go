package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"vidsight/internal/model"
)

type RegisterStreamRequest struct {
	Name     string `json:"name"`
	IVSURL   string `json:"ivs_url"`
	StreamID string `json:"stream_id"`
}

func (c *Client) RegisterStream(ctx context.Context, in RegisterStreamRequest) (model.Stream, error) {
	var out model.Stream
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("stream", "register"), in, &out); err != nil {
		return model.Stream{}, err
	}
	return out, nil
}

func (c *Client) Streams(ctx context.Context) ([]model.Stream, error) {
	var out []model.Stream
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("stream", "all"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Stream(ctx context.Context, streamID string) (model.Stream, error) {
	var out model.Stream
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("stream", streamID), nil, &out); err != nil {
		return model.Stream{}, err
	}
	return out, nil
}

func (c *Client) StartStream(ctx context.Context, streamID string) error {
	return c.doJSON(ctx, http.MethodPost, c.endpoint("stream", streamID, "start"), nil, nil)
}

func (c *Client) StopStream(ctx context.Context, streamID string) error {
	return c.doJSON(ctx, http.MethodPost, c.endpoint("stream", streamID, "stop"), nil, nil)
}

func (c *Client) StreamStatus(ctx context.Context, streamID string) (model.StreamStatus, error) {
	var out model.StreamStatus
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("stream", "status", streamID), nil, &out); err != nil {
		return model.StreamStatus{}, err
	}
	return out, nil
}

// StreamLogs returns the log snapshot for a stream. See DecodeLogs for the
// accepted payload shapes.
func (c *Client) StreamLogs(ctx context.Context, streamID string) ([]model.LogEntry, error) {
	var payload struct {
		Logs json.RawMessage `json:"logs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("stream", streamID, "logs"), nil, &payload); err != nil {
		return nil, err
	}
	return DecodeLogs(payload.Logs), nil
}

// DecodeLogs accepts an array of entries or a JSON string holding one.
// Entries that do not decode are skipped; anything else is an empty snapshot.
func DecodeLogs(raw json.RawMessage) []model.LogEntry {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []model.LogEntry{}
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return []model.LogEntry{}
		}
		return DecodeLogs(json.RawMessage(inner))
	}
	if raw[0] != '[' {
		return []model.LogEntry{}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []model.LogEntry{}
	}
	out := make([]model.LogEntry, 0, len(items))
	for _, item := range items {
		var entry model.LogEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (c *Client) UpdateStreamURL(ctx context.Context, streamID, ivsURL string) error {
	in := struct {
		IVSURL string `json:"ivs_url"`
	}{IVSURL: ivsURL}
	return c.doJSON(ctx, http.MethodPost, c.endpoint("stream", streamID, "update"), in, nil)
}

func (c *Client) AskStream(ctx context.Context, streamID, query string) (string, error) {
	in := struct {
		Query string `json:"query"`
	}{Query: query}
	var out answerResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("stream", streamID, "chat"), in, &out); err != nil {
		return "", err
	}
	return out.Answer, nil
}

func (c *Client) DeleteStream(ctx context.Context, streamID string) error {
	return c.doJSON(ctx, http.MethodDelete, c.endpoint("stream", streamID), nil, nil)
}
