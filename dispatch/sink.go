package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// JSONLSink writes one JSON object per delivery.
type JSONLSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{enc: json.NewEncoder(w)}
}

func (s *JSONLSink) Deliver(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(d); err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	return nil
}

// DiscardSink accepts every delivery and only counts them. Used for dry runs.
type DiscardSink struct {
	mu    sync.Mutex
	count int
}

func (s *DiscardSink) Deliver(context.Context, Delivery) error {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

func (s *DiscardSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
