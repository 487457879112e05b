package kafka

import "errors"

var (
	ErrInvalidConfig  = errors.New("kafka: invalid config")
	ErrNoBrokers      = errors.New("kafka: no brokers configured")
	ErrEmptyTopic     = errors.New("kafka: empty topic")
	ErrClientClosed   = errors.New("kafka: client is closed")
	ErrProducerClosed = errors.New("kafka: producer is closed")
	ErrProducerPanic  = errors.New("kafka: producer panic")
)
