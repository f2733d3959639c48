package sse

import (
	"bufio"
	"io"
	"strings"
)

// Frame is one decoded event from a stream.
type Frame struct {
	Event string
	Data  string
}

// Reader decodes frames incrementally from a live stream.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	return &Reader{sc: sc}
}

// Next returns the next complete frame, or io.EOF once the stream ends.
// Comment lines and frames without data are skipped.
func (r *Reader) Next() (Frame, error) {
	var f Frame
	var data []string
	for r.sc.Scan() {
		line := r.sc.Text()
		if line == "" {
			if len(data) > 0 {
				f.Data = strings.Join(data, "\n")
				return f, nil
			}
			f = Frame{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, err
	}
	if len(data) > 0 {
		f.Data = strings.Join(data, "\n")
		return f, nil
	}
	return Frame{}, io.EOF
}
