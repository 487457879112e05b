package dberrors

import (
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOfCode(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeQuery, http.StatusBadRequest},
		{CodePermissionDenied, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeTransaction, http.StatusConflict},
		{CodeUnsupported, http.StatusNotImplemented},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeDatabase, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOfCode(tt.code))
		})
	}
}

func TestQueryWrapsDriverError(t *testing.T) {
	driverErr := errors.New("duplicate key value violates unique constraint")
	err := Query("PostgreSQL", "insert", driverErr)

	de := From(err)
	require.NotNil(t, de)
	assert.Equal(t, CodeQuery, de.Code)
	assert.Equal(t, http.StatusBadRequest, de.StatusCode)
	assert.Equal(t, "PostgreSQL insert error: duplicate key value violates unique constraint", de.Error())
	assert.False(t, errors.Is(err, driverErr), "driver error must not be reachable")
}

func TestQueryKeepsFamilyErrors(t *testing.T) {
	nf := NotFound("users")
	err := Query("MySQL", "update", nf)
	assert.Same(t, nf, From(err))
	assert.Nil(t, Query("MySQL", "update", nil))
}

func TestValidationFields(t *testing.T) {
	err := Validation("invalid request", FieldError{Field: "entity", Message: "is required"})
	assert.Equal(t, CodeValidation, err.Code)
	fields, ok := err.Details["fields"].([]FieldError)
	require.True(t, ok)
	assert.Equal(t, "entity", fields[0].Field)
}

func TestPermissionDeniedDetails(t *testing.T) {
	err := PermissionDenied("alice", "DELETE", "orders")
	assert.Equal(t, http.StatusForbidden, err.StatusCode)
	assert.Equal(t, "alice", err.Details["actor"])
	assert.Equal(t, "DELETE", err.Details["operation"])
	assert.Equal(t, "orders", err.Details["entity"])
	assert.Contains(t, err.Error(), "delete orders")
}

func TestTransactionCause(t *testing.T) {
	sentinel := errors.New("transaction: not pending")
	err := Transaction(sentinel, "transaction %s is %s", "tx-1", "COMMITTED")
	assert.True(t, errors.Is(err, sentinel))
	assert.True(t, IsCode(err, CodeTransaction))
	assert.Equal(t, http.StatusConflict, err.StatusCode)
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	plain := errors.New("boom")
	de := From(plain)
	assert.Equal(t, CodeDatabase, de.Code)
	assert.True(t, errors.Is(de, plain))

	wrapped := errors.Wrap(NotFound("users"), "lookup")
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(nil))
}
