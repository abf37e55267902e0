//go:build integration
// +build integration

package couchremote

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/store"
)

// setupCouchDBContainer starts a real CouchDB server so this backend is
// exercised against the protocol it actually speaks, not a mock.
func setupCouchDBContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "couchdb:3.3",
		ExposedPorts: []string{"5984/tcp"},
		Env: map[string]string{
			"COUCHDB_USER":     "admin",
			"COUCHDB_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForHTTP("/_up").WithPort("5984/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start CouchDB container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5984")
	require.NoError(t, err)

	dsn := fmt.Sprintf("http://admin:testpass@%s:%s", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return dsn, cleanup
}

func TestDB_Integration_PutGetBulkDocs(t *testing.T) {
	dsn, cleanup := setupCouchDBContainer(t)
	defer cleanup()
	ctx := context.Background()

	db, err := Open(ctx, dsn, fmt.Sprintf("integration-%d", time.Now().UnixNano()%1_000_000), store.Options{})
	require.NoError(t, err)
	defer db.Close()

	t.Run("new document through BulkDocs with new_edits", func(t *testing.T) {
		doc := store.Document{
			ID:   "doc-1",
			Body: json.RawMessage(`{"hello":"world"}`),
		}
		results, err := db.BulkDocs(ctx, []store.Document{doc}, store.BulkDocsOptions{NewEdits: true})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Ok)
		assert.False(t, results[0].Rev.IsZero())

		got, err := db.Get(ctx, "doc-1", store.GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, "doc-1", got.ID)
		assert.JSONEq(t, `{"hello":"world"}`, string(got.Body))
	})

	t.Run("info reports the doc just written", func(t *testing.T) {
		info, err := db.Info(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, info.DocCount, 1)
		assert.False(t, info.UpdateSeq.IsZero())
	})
}

func TestDB_Integration_RevsDiffAndBulkGet(t *testing.T) {
	dsn, cleanup := setupCouchDBContainer(t)
	defer cleanup()
	ctx := context.Background()

	db, err := Open(ctx, dsn, fmt.Sprintf("integration-%d", time.Now().UnixNano()%1_000_000), store.Options{})
	require.NoError(t, err)
	defer db.Close()

	doc := store.Document{ID: "doc-rd", Body: json.RawMessage(`{"n":1}`)}
	results, err := db.BulkDocs(ctx, []store.Document{doc}, store.BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)
	writtenRev := results[0].Rev

	diff, err := db.RevsDiff(ctx, map[string][]rev.Revision{
		"doc-rd": {writtenRev, rev.New(writtenRev.Pos+1, "0000000000000000000000000000000f")},
	})
	require.NoError(t, err)
	require.Contains(t, diff, "doc-rd")
	assert.Len(t, diff["doc-rd"].Missing, 1)

	bulkGot, err := db.BulkGet(ctx, []store.BulkGetItem{{ID: "doc-rd"}})
	require.NoError(t, err)
	require.Len(t, bulkGot, 1)
	require.Len(t, bulkGot[0].Docs, 1)
	require.NotNil(t, bulkGot[0].Docs[0].Doc)
	assert.JSONEq(t, `{"n":1}`, string(bulkGot[0].Docs[0].Doc.Body))
}

func TestDB_Integration_ChangesAndLocal(t *testing.T) {
	dsn, cleanup := setupCouchDBContainer(t)
	defer cleanup()
	ctx := context.Background()

	db, err := Open(ctx, dsn, fmt.Sprintf("integration-%d", time.Now().UnixNano()%1_000_000), store.Options{})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.BulkDocs(ctx, []store.Document{
		{ID: "doc-a", Body: json.RawMessage(`{}`)},
		{ID: "doc-b", Body: json.RawMessage(`{}`)},
	}, store.BulkDocsOptions{NewEdits: true})
	require.NoError(t, err)

	changes, err := db.Changes(ctx, store.ChangesOptions{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(changes.Results), 2)
	assert.False(t, changes.LastSeq.IsZero())

	require.NoError(t, db.PutLocal(ctx, "_local/checkpoint", json.RawMessage(`{"last_seq":"1-abc"}`)))
	body, err := db.GetLocal(ctx, "_local/checkpoint")
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_seq":"1-abc"}`, string(body))

	// Overwriting picks up the existing _rev rather than conflicting.
	require.NoError(t, db.PutLocal(ctx, "_local/checkpoint", json.RawMessage(`{"last_seq":"2-def"}`)))
	body, err = db.GetLocal(ctx, "_local/checkpoint")
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_seq":"2-def"}`, string(body))
}
