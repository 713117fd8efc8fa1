package llm

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Provider issues one completion request and streams the answer back.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (Stream, error)
}

type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Usage is the token accounting reported by the model, when it reports any.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

type Chunk struct {
	Content string
	Usage   *Usage
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is a fully drained completion.
type Result struct {
	Text  string
	Usage *Usage
}

// Collect drains stream and closes it. Providers report usage in pieces
// (input on the first event, output on the last), so the largest value seen
// for each direction wins. Usage stays nil when the model never reported it.
func Collect(stream Stream) (Result, error) {
	defer stream.Close()

	var text strings.Builder
	var usage *Usage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{Text: text.String(), Usage: usage}, err
		}
		text.WriteString(chunk.Content)
		if chunk.Usage != nil {
			if usage == nil {
				usage = &Usage{}
			}
			usage.InputTokens = max(usage.InputTokens, chunk.Usage.InputTokens)
			usage.OutputTokens = max(usage.OutputTokens, chunk.Usage.OutputTokens)
		}
	}
	return Result{Text: text.String(), Usage: usage}, nil
}

// Generate runs a completion and drains it.
func Generate(ctx context.Context, provider Provider, messages []Message) (Result, error) {
	stream, err := provider.Complete(ctx, messages)
	if err != nil {
		return Result{}, err
	}
	return Collect(stream)
}

type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
	decode func([]byte) (Chunk, error)
}

func newSSEStream(resp *http.Response, decode func([]byte) (Chunk, error)) *sseStream {
	return &sseStream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
		decode: decode,
	}
}

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}

func (s *sseStream) Recv() (Chunk, error) {
	for {
		data, err := s.readEvent()
		if err != nil {
			return Chunk{}, err
		}
		payload := strings.TrimSpace(string(data))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return Chunk{}, io.EOF
		}
		chunk, err := s.decode(data)
		if err != nil {
			return Chunk{}, err
		}
		if chunk.Content == "" && chunk.Usage == nil {
			continue
		}
		return chunk, nil
	}
}

func (s *sseStream) readEvent() ([]byte, error) {
	var dataLines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if errors.Is(err, io.EOF) {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			return nil, io.EOF
		}
	}
}
