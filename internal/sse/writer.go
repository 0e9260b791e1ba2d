// Package sse writes Server-Sent Events in the data-only framing this
// API speaks: every frame is a single "data: <json>" line followed by
// a blank line, with the frame type carried inside the JSON payload.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrStreamingUnsupported is returned when the response writer cannot
// flush, which SSE requires.
var ErrStreamingUnsupported = errors.New("sse: response writer does not support flushing")

// Writer frames payloads onto an SSE response. It is not safe for
// concurrent use; one goroutine owns the stream.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter prepares w for SSE and returns a frame writer. The headers
// disable caching and proxy buffering so frames reach the client as
// they are written.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteFrame marshals payload and sends it as one frame, flushing
// immediately. A cancelled context stops the write before it starts; a
// write error usually means the client went away.
func (w *Writer) WriteFrame(ctx context.Context, payload any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("sse: context done: %w", ctx.Err())
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal frame: %w", err)
	}

	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}

	w.flusher.Flush()
	return nil
}
