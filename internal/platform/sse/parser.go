// Package sse implements the two streaming primitives the chat pipeline
// needs: a push parser for server-sent-event data lines that tolerates lines
// split across network chunks, and a broadcaster that fans one delta stream
// out to independently-buffered consumers.
package sse

import (
	"encoding/json"
	"strings"
)

// DoneSentinel is the payload the completion gateway emits as its final data
// line.
const DoneSentinel = "[DONE]"

// Delta is one parsed increment of assistant output.
type Delta struct {
	Content string
	Done    bool
}

// LineParser accumulates raw stream chunks and yields complete data lines.
// A line may arrive split across any number of chunks; the unterminated tail
// stays buffered until its newline arrives.
type LineParser struct {
	buf strings.Builder
}

// Push appends a chunk and returns the payloads of all data lines completed
// by it, in order. Non-data lines (comments, blank keep-alives) are dropped.
func (p *LineParser) Push(chunk []byte) []string {
	p.buf.Write(chunk)

	s := p.buf.String()
	if !strings.Contains(s, "\n") {
		return nil
	}

	lines := strings.Split(s, "\n")
	tail := lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	p.buf.Reset()
	p.buf.WriteString(tail)

	var out []string
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			out = append(out, strings.TrimSpace(payload))
		}
	}
	return out
}

// Buffered returns the unterminated tail still waiting for its newline.
func (p *LineParser) Buffered() string {
	return p.buf.String()
}

// completionChunk mirrors the delta frames of a chat-completion stream.
type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ParseDelta decodes one data-line payload. ok is false for payloads that are
// not valid delta frames; the stream continues past them.
func ParseDelta(payload string) (Delta, bool) {
	if payload == DoneSentinel {
		return Delta{Done: true}, true
	}

	var chunk completionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Delta{}, false
	}
	if len(chunk.Choices) == 0 {
		return Delta{}, false
	}
	return Delta{Content: chunk.Choices[0].Delta.Content}, true
}
