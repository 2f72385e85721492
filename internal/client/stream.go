package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rethoric/rethoric/internal/events"
)

// EventStream parses a Server-Sent Events body into conversation events.
type EventStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func newEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{body: body, reader: bufio.NewReader(body)}
}

// Recv blocks until the next event. It returns io.EOF when the server
// closes the stream.
func (s *EventStream) Recv() (*events.Event, error) {
	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read line: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		// Blank line terminates an event.
		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var e events.Event
			if err := json.Unmarshal([]byte(data.String()), &e); err != nil {
				data.Reset()
				continue
			}
			return &e, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (s *EventStream) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}
