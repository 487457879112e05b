package dal

import "errors"

var (
	ErrInvalidConfig = errors.New("dal: invalid config")
	ErrServiceClosed = errors.New("dal: service closed")
	ErrAuditOverload = errors.New("dal: audit queue full")
)
