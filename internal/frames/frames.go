// Package frames decodes the framed log payloads served by the agent's
// /v1/client/fs/logs endpoint.
//
// A payload is a run of JSON objects, either back to back ("}{") or newline
// separated. Each object carries a base64 Data chunk and the file offset just
// past it. Objects without Data are heartbeats.
package frames

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

const (
	scannerInitial = 64 * 1024
	scannerMax     = 1024 * 1024
)

// ErrCorruptFrame marks a frame that could not be decoded.
var ErrCorruptFrame = errors.New("corrupt frame")

// Frame is a single unit of the log wire format.
type Frame struct {
	Offset    int64  `json:"Offset"`
	Data      []byte `json:"Data"`
	File      string `json:"File"`
	FileEvent string `json:"FileEvent"`
}

// HasData reports whether the frame carries log bytes.
func (f Frame) HasData() bool {
	return len(f.Data) > 0
}

// Message is the decoded content of one or more frames.
type Message struct {
	Text   string
	Offset int64
	File   string
	Events []string
	Frames int // data frames folded into Text
}

// Add folds f into the message. Heartbeats leave it untouched.
func (m *Message) Add(f Frame) {
	if f.FileEvent != "" {
		m.Events = append(m.Events, f.FileEvent)
	}
	if !f.HasData() {
		return
	}
	m.Text += string(f.Data)
	m.Offset = f.Offset
	if f.File != "" {
		m.File = f.File
	}
	m.Frames++
}

// DecodeFrame unmarshals a single frame token.
func DecodeFrame(token []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(token, &f); err != nil {
		return Frame{}, errors.Wrapf(ErrCorruptFrame, "%v", err)
	}
	return f, nil
}

// Decode decodes a complete bounded payload. Corrupt frames are skipped; the
// returned message holds every good frame and the error wraps ErrCorruptFrame.
func Decode(raw []byte) (Message, error) {
	var msg Message
	scanner := NewScanner(bytes.NewReader(raw))
	corrupt := 0
	for scanner.Scan() {
		f, err := DecodeFrame(scanner.Bytes())
		if err != nil {
			corrupt++
			continue
		}
		msg.Add(f)
	}
	if err := scanner.Err(); err != nil {
		return msg, errors.Wrap(err, "scan frames")
	}
	if corrupt > 0 {
		return msg, errors.Wrapf(ErrCorruptFrame, "dropped %d frame(s)", corrupt)
	}
	return msg, nil
}

// NewScanner returns a scanner that yields one frame token per Scan.
func NewScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitial), scannerMax)
	scanner.Split(ScanFrames)
	return scanner
}

// ScanFrames is a bufio.SplitFunc returning one complete top-level JSON object
// per token. Bytes before the first '{' are discarded. An incomplete object is
// held until more data arrives, and dropped at EOF.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.IndexByte(data, '{')
	if start < 0 {
		return len(data), nil, nil
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, data[start : i+1], nil
			}
		}
	}

	if atEOF {
		return len(data), nil, nil
	}
	return start, nil, nil
}
