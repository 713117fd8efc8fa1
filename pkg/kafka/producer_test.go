package kafka

import (
	"testing"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(ProducerConfig{}, logging.NewDiscardLogger()); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestNewProducerDoesNotDial(t *testing.T) {
	p, err := NewProducer(ProducerConfig{Brokers: []string{"127.0.0.1:1"}}, logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	_ = p.Close()
}
