// Package stream turns an upstream server-sent-event body into provider
// frames and folds those frames into a finished reply.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"sales-crm-docgen/internal/domain/model"
)

type FrameKind int

const (
	FrameDelta FrameKind = iota + 1
	FrameUsage
	FrameTerminal
)

func (k FrameKind) String() string {
	switch k {
	case FrameDelta:
		return "delta"
	case FrameUsage:
		return "usage"
	case FrameTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Frame is one decoded unit of an upstream reply.
type Frame struct {
	Kind         FrameKind
	Text         string      // FrameDelta
	Usage        model.Usage // FrameUsage, absolute totals
	FinishReason string      // FrameTerminal, normalized to "stop" | "length" | raw value
}

const (
	dataPrefix  = "data:"
	doneMarker  = "[DONE]"
	maxLineSize = 1 << 20
)

// Decoder reads frames from an SSE body. It understands two dialects without
// configuration: chat-completions chunks (choices[0].delta.content,
// finish_reason) and typed message events (content_block_delta,
// message_delta, message_stop).
//
// A Decoder is not safe for concurrent use and cannot be restarted.
type Decoder struct {
	r       *bufio.Reader
	line    []byte
	pending []Frame

	// held is a chat-completions terminal frame kept back until the next
	// payload, since usage may arrive in a trailing chunk.
	held *Frame

	// typed-events dialect state
	inputTokens int
	stopReason  string

	dropped int
	err     error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Dropped returns how many payloads were discarded as malformed or oversized.
func (d *Decoder) Dropped() int { return d.dropped }

// Next returns the next frame. It returns io.EOF when the body ends cleanly
// and the transport error when reading fails.
func (d *Decoder) Next() (Frame, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			return Frame{}, d.err
		}
		line, err := d.readLine()
		if err != nil {
			d.flushHeld()
			d.err = err
			continue
		}
		d.handleLine(line)
	}
	f := d.pending[0]
	d.pending = d.pending[1:]
	return f, nil
}

// readLine returns the next line without its terminator. A line longer than
// maxLineSize is skipped whole and counted as dropped; an unterminated last
// line is returned before io.EOF.
func (d *Decoder) readLine() ([]byte, error) {
	d.line = d.line[:0]
	tooLong := false
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !tooLong && len(d.line)+len(chunk) > maxLineSize {
			tooLong = true
			d.line = d.line[:0]
		}
		if !tooLong {
			d.line = append(d.line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && (!errors.Is(err, io.EOF) || (!tooLong && len(d.line) == 0)) {
			return nil, err
		}
		break
	}
	if tooLong {
		d.dropped++
		return nil, nil
	}
	return bytes.TrimRight(d.line, "\r\n"), nil
}

func (d *Decoder) handleLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		// event:, id:, retry:, comments and keepalives
		return
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return
	}
	if string(payload) == doneMarker {
		d.flushHeld()
		return
	}

	var p wirePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		d.dropped++
		return
	}
	if p.Type != "" {
		d.decodeTyped(&p)
		return
	}
	d.decodeChunk(&p)
}

func (d *Decoder) emit(f Frame) { d.pending = append(d.pending, f) }

func (d *Decoder) flushHeld() {
	if d.held != nil {
		d.emit(*d.held)
		d.held = nil
	}
}

// decodeChunk handles the chat-completions dialect.
func (d *Decoder) decodeChunk(p *wirePayload) {
	usage := p.Usage.toModel()

	if d.held != nil {
		// A terminal frame was already seen; only a trailing usage chunk
		// is still meaningful.
		if !usage.IsZero() {
			d.emit(Frame{Kind: FrameUsage, Usage: usage})
		}
		d.flushHeld()
		return
	}

	var finish *string
	if len(p.Choices) > 0 {
		c := p.Choices[0]
		if c.Delta.Content != nil && *c.Delta.Content != "" {
			d.emit(Frame{Kind: FrameDelta, Text: *c.Delta.Content})
		}
		finish = c.FinishReason
	}
	if !usage.IsZero() {
		d.emit(Frame{Kind: FrameUsage, Usage: usage})
	}
	if finish != nil && *finish != "" {
		d.held = &Frame{Kind: FrameTerminal, FinishReason: normalizeFinish(*finish)}
	}
}

// decodeTyped handles the typed message-event dialect.
func (d *Decoder) decodeTyped(p *wirePayload) {
	switch p.Type {
	case "message_start":
		if p.Message != nil {
			d.inputTokens = p.Message.Usage.InputTokens
		}
	case "content_block_delta":
		if p.Delta != nil && p.Delta.Text != "" {
			d.emit(Frame{Kind: FrameDelta, Text: p.Delta.Text})
		}
	case "message_delta":
		if p.Delta != nil && p.Delta.StopReason != nil {
			d.stopReason = normalizeFinish(*p.Delta.StopReason)
		}
		if p.Usage != nil {
			in := p.Usage.InputTokens
			if in == 0 {
				in = d.inputTokens
			}
			u := model.Usage{InputTokens: in, OutputTokens: p.Usage.OutputTokens}.Normalized()
			if !u.IsZero() {
				d.emit(Frame{Kind: FrameUsage, Usage: u})
			}
		}
	case "message_stop":
		reason := d.stopReason
		if reason == "" {
			reason = "stop"
		}
		d.emit(Frame{Kind: FrameTerminal, FinishReason: reason})
	case "error":
		d.dropped++
	}
}

// normalizeFinish maps provider stop reasons onto the chat-completions names.
func normalizeFinish(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "stop":
		return "stop"
	case "max_tokens", "length":
		return "length"
	default:
		return reason
	}
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

func (u *wireUsage) toModel() model.Usage {
	if u == nil {
		return model.Usage{}
	}
	out := model.Usage{
		InputTokens:  u.PromptTokens + u.InputTokens,
		OutputTokens: u.CompletionTokens + u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
	return out.Normalized()
}

type wirePayload struct {
	// typed-events dialect
	Type    string `json:"type"`
	Message *struct {
		Usage wireUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string  `json:"type"`
		Text       string  `json:"text"`
		StopReason *string `json:"stop_reason"`
	} `json:"delta"`

	// chat-completions dialect
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`

	// both
	Usage *wireUsage `json:"usage"`
}
