package assistant

import (
	"bytes"
	"log"
)

type parserState int

const (
	stateAwaitingFrame parserState = iota
	stateParsingLine
	stateDone
	stateDoneByEOF
	stateFailed
)

func (s parserState) String() string {
	switch s {
	case stateAwaitingFrame:
		return "awaiting_frame"
	case stateParsingLine:
		return "parsing_line"
	case stateDone:
		return "done"
	case stateDoneByEOF:
		return "done_by_eof"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	dataPrefix         = []byte("data:")
	doneSentinel       = []byte("[DONE]")
	quotedDoneSentinel = []byte(`"[DONE]"`)
)

// frameHandler receives every decoded frame in order. A non-nil error stops the stream.
type frameHandler func(f frame) error

// streamParser splits an event stream into data lines and feeds them to a frame decoder.
// Chunks may end anywhere; a partial line is kept until its newline arrives.
type streamParser struct {
	decoder frameDecoder
	handle  frameHandler
	acc     *accumulation
	state   parserState
	pending []byte
}

func newStreamParser(decoder frameDecoder, acc *accumulation, handle frameHandler) *streamParser {
	return &streamParser{
		decoder: decoder,
		handle:  handle,
		acc:     acc,
		state:   stateAwaitingFrame,
	}
}

// done reports whether the parser reached a terminal state
func (p *streamParser) done() bool {
	return p.state == stateDone || p.state == stateDoneByEOF || p.state == stateFailed
}

// feed consumes one chunk of the response body
func (p *streamParser) feed(chunk []byte) error {
	if p.done() {
		return nil
	}
	p.pending = append(p.pending, chunk...)

	for !p.done() {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			return nil
		}
		line := p.pending[:i]
		p.pending = p.pending[i+1:]
		if err := p.processLine(line); err != nil {
			p.state = stateFailed
			return err
		}
	}
	return nil
}

// finish is called when the body is exhausted. The trailing partial line is processed and
// whatever was accumulated becomes the result.
func (p *streamParser) finish() (string, error) {
	if p.state == stateFailed {
		return "", nil
	}
	if p.state != stateDone && len(p.pending) > 0 {
		line := p.pending
		p.pending = nil
		if err := p.processLine(line); err != nil {
			p.state = stateFailed
			return "", err
		}
	}
	if p.state != stateDone {
		p.state = stateDoneByEOF
		log.Printf("[Stream] Ended without sentinel request_id=%s result_length=%d", p.acc.id, len(p.acc.text))
	}
	return p.acc.text, nil
}

// fail marks the stream as aborted by a transport error
func (p *streamParser) fail() {
	p.state = stateFailed
}

func (p *streamParser) processLine(line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	payload, ok := bytes.CutPrefix(line, dataPrefix)
	if !ok {
		// comments, keep-alives and event: lines
		return nil
	}
	payload = bytes.TrimSpace(payload)

	if bytes.Equal(payload, quotedDoneSentinel) || bytes.Equal(payload, doneSentinel) {
		p.state = stateDone
		return nil
	}

	p.state = stateParsingLine
	defer func() {
		if p.state == stateParsingLine {
			p.state = stateAwaitingFrame
		}
	}()

	f, err := p.decoder.decodeFrame(payload)
	if err != nil {
		log.Printf("[Stream] Skipping undecodable frame request_id=%s err=%v", p.acc.id, err)
		return nil
	}
	if f.hasFinal {
		p.acc.text = f.final
	}
	return p.handle(f)
}
