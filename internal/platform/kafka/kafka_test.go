package kafka

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProducer_Validation(t *testing.T) {
	_, err := NewProducer(nil, "corebank.audit")
	require.ErrorContains(t, err, "broker")

	_, err = NewProducer([]string{"localhost:9092"}, "")
	require.ErrorContains(t, err, "topic")
}
