package llm

import (
	"errors"
	"io"
	"testing"
)

type sliceStream struct {
	chunks []Chunk
	err    error
	closed bool
}

func (s *sliceStream) Recv() (Chunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func TestCollectMergesUsage(t *testing.T) {
	stream := &sliceStream{chunks: []Chunk{
		{Usage: &Usage{InputTokens: 30}},
		{Content: "a"},
		{Content: "b", Usage: &Usage{OutputTokens: 7}},
	}}
	result, err := Collect(stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Text != "ab" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Usage.InputTokens != 30 || result.Usage.OutputTokens != 7 {
		t.Fatalf("unexpected usage %+v", result.Usage)
	}
	if !stream.closed {
		t.Fatalf("expected stream to be closed")
	}
}

func TestCollectPropagatesErrors(t *testing.T) {
	boom := errors.New("connection reset")
	stream := &sliceStream{chunks: []Chunk{{Content: "partial"}}, err: boom}
	result, err := Collect(stream)
	if !errors.Is(err, boom) {
		t.Fatalf("expected stream error, got %v", err)
	}
	if result.Text != "partial" {
		t.Fatalf("expected partial text, got %q", result.Text)
	}
}
