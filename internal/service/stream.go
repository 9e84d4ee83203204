package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/set-night/evochat/internal/domain"
)

// maxEventSize bounds a single server-sent event. Inline payloads can be large.
const maxEventSize = 16 << 20

// Fragment is one incremental piece of a streamed reply.
type Fragment struct {
	Text      string
	Citations []string
	Queries   []string
	Usage     *domain.Usage
}

// StreamEvent is either a fragment or the terminal event of a stream.
// Exactly one terminal event (Done or Err) is sent before the channel closes.
type StreamEvent struct {
	Fragment *Fragment
	Done     bool
	Err      error
}

// Terminal reports whether e ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Done || e.Err != nil
}

// SSEReader parses server-sent events.
type SSEReader struct {
	scanner *bufio.Scanner
}

func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &SSEReader{scanner: sc}
}

// ReadEvent returns the data of the next event. Returns io.EOF when the
// stream ends.
func (s *SSEReader) ReadEvent() ([]byte, error) {
	var data [][]byte
	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		if len(line) == 0 {
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			payload := bytes.TrimPrefix(line[5:], []byte(" "))
			data = append(data, append([]byte(nil), payload...))
		}
		// event:, id:, retry: and comments are ignored
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		return bytes.Join(data, []byte("\n")), nil
	}
	return nil, io.EOF
}

// fragmentFrom extracts the incremental text and grounding of one response chunk.
func fragmentFrom(resp *GenerateResponse) Fragment {
	f := Fragment{
		Text:      resp.Text(),
		Citations: resp.Citations(),
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
		gm := resp.Candidates[0].GroundingMetadata
		f.Queries = append(f.Queries, gm.WebSearchQueries...)
		if len(f.Queries) == 0 && gm.SearchEntryPoint != nil {
			f.Queries = SearchSuggestions(gm.SearchEntryPoint.RenderedContent)
		}
	}
	if u := resp.UsageMetadata; u != nil {
		f.Usage = &domain.Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return f
}

// pumpStream decodes SSE chunks from body into events. It owns body and
// closes both body and the channel when done.
func pumpStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	reader := NewSSEReader(body)
	for {
		data, err := reader.ReadEvent()
		if err == io.EOF {
			send(StreamEvent{Done: true})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			send(StreamEvent{Err: fmt.Errorf("read stream: %w", err)})
			return
		}

		var chunk struct {
			GenerateResponse
			Error *apiErrorBody `json:"error,omitempty"`
		}
		if err := json.Unmarshal(data, &chunk); err != nil {
			send(StreamEvent{Err: fmt.Errorf("parse stream chunk: %w", err)})
			return
		}
		if chunk.Error != nil {
			send(StreamEvent{Err: classifyError(chunk.Error.toAPIError(0))})
			return
		}

		frag := fragmentFrom(&chunk.GenerateResponse)
		if !send(StreamEvent{Fragment: &frag}) {
			return
		}
	}
}
