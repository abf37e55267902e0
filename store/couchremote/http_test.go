package couchremote

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evalgo-org/rouchdb/store"
)

func TestMapStatusTranslatesKnownCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   store.Kind
	}{
		{http.StatusNotFound, store.KindNotFound},
		{http.StatusConflict, store.KindConflict},
		{http.StatusBadRequest, store.KindBadRequest},
		{http.StatusUnauthorized, store.KindUnauthorized},
		{http.StatusForbidden, store.KindForbidden},
		{http.StatusPreconditionFailed, store.KindDatabaseExists},
		{http.StatusInternalServerError, store.KindDatabaseError},
	}
	for _, tc := range cases {
		err := mapStatus(tc.status, "reason")
		assert.Equal(t, tc.kind, err.Kind)
		assert.Equal(t, "reason", err.Reason)
	}
}
