package testutil

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"
)

// ParseFrames parses a data-only SSE stream into its JSON payloads.
//
// The chat endpoint emits frames as "data: {json}" lines terminated by a
// blank line, with the frame type carried inside the JSON rather than in
// an "event:" field. Per the SSE spec, multiple data lines belonging to
// one frame are joined with a newline, and comment lines starting with
// ":" are ignored. Anything else fails the test.
//
// Example:
//
//	frames := testutil.ParseFrames(t, rec.Body.String())
//	require.Equal(t, []string{"token", "done"}, testutil.FrameTypes(t, frames))
func ParseFrames(t *testing.T, body string) []json.RawMessage {
	t.Helper()

	var frames []json.RawMessage
	var dataLines []string
	lineNum := 0

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))

		case line == "":
			if len(dataLines) == 0 {
				continue
			}
			payload := strings.Join(dataLines, "\n")
			if !json.Valid([]byte(payload)) {
				t.Fatalf("frame ending at line %d is not valid JSON: %q", lineNum, payload)
			}
			frames = append(frames, json.RawMessage(payload))
			dataLines = nil

		case strings.HasPrefix(line, ":"):
			// comment, ignore

		default:
			t.Fatalf("unexpected SSE line %d: %q", lineNum, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("failed to scan SSE body: %v", err)
	}

	if len(dataLines) > 0 {
		t.Fatalf("stream ended mid-frame (missing blank line after %q)", dataLines[len(dataLines)-1])
	}

	return frames
}

// FrameTypes extracts the "type" field from each parsed frame, preserving
// order. Frames without a type fail the test.
func FrameTypes(t *testing.T, frames []json.RawMessage) []string {
	t.Helper()

	types := make([]string, 0, len(frames))
	for i, frame := range frames {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("failed to decode frame %d: %v", i, err)
		}
		if envelope.Type == "" {
			t.Fatalf("frame %d has no type: %s", i, frame)
		}
		types = append(types, envelope.Type)
	}
	return types
}

// FindFrame returns the first frame whose type matches, or nil.
func FindFrame(t *testing.T, frames []json.RawMessage, frameType string) json.RawMessage {
	t.Helper()

	for _, frame := range frames {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		if envelope.Type == frameType {
			return frame
		}
	}
	return nil
}
