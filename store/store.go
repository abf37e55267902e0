// Package store defines the narrow adapter contract that every backend
// (memory, embedded-KV, CouchDB-over-HTTP) implements, plus the document and
// option types shared across them. Callers depend on the
// Adapter interface, never on a concrete backend, so replicate and
// changesfeed work identically regardless of which backend sits underneath.
package store

import (
	"context"
	"encoding/json"

	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/revtree"
)

// Document is the in-core form of a document: identity, revision metadata,
// and body kept apart from the CouchDB underscore fields.
type Document struct {
	ID        string
	Rev       rev.Revision
	Deleted   bool
	Body      json.RawMessage
	Conflicts []rev.Revision `json:"-"`
	Revisions []rev.Revision `json:"-"` // full history, newest first, when requested
}

// DocMetadata is what a backend keeps per document independent of body
// storage: the revision tree and the sequence of its last write.
type DocMetadata struct {
	ID   string
	Tree revtree.Tree
	Seq  rev.Seq
}

// Options configures a database/adapter instance.
type Options struct {
	// Name identifies this database instance in Info().Name and therefore in
	// the replicator's source/target identity. Backends
	// fall back to a fixed backend-kind name ("memory", "kvstore") when Name
	// is empty, which is fine for a single standalone database but means two
	// unnamed instances of the same backend kind are indistinguishable to
	// the replicator; callers replicating between same-kind databases should
	// set Name explicitly.
	Name string

	// RevLimit bounds how many ancestors a path retains after each write.
	// 0 makes every backend constructor fall back to DefaultRevLimit; a
	// negative value disables stemming in the memory and embedded-KV
	// backends.
	RevLimit int
}

// DefaultRevLimit is applied by every backend's constructor when the caller
// leaves Options.RevLimit unset.
const DefaultRevLimit = 1000

// GetOptions controls Adapter.Get. To fetch every open (leaf) revision of a
// document rather than a single one, use OpenRevs.
type GetOptions struct {
	Rev       rev.Revision // zero value means "the current winner"
	Conflicts bool         // populate Document.Conflicts
	Revisions bool         // populate Document.Revisions with the full history
}

// BulkDocsOptions controls Adapter.BulkDocs.
type BulkDocsOptions struct {
	// NewEdits true means each doc is a plain edit: it must carry its
	// parent rev and the backend assigns a new revision. False (the zero
	// value) means replication mode: each doc carries its own claimed revision,
	// which is merged into the tree as-is without conflict checking.
	NewEdits bool
}

// DocResult is one entry of a BulkDocs response.
type DocResult struct {
	ID    string
	Rev   rev.Revision
	Ok    bool
	Error *Error
}

// BulkGetItem requests one document, optionally at a specific revision.
type BulkGetItem struct {
	ID  string
	Rev rev.Revision // zero value means "the winner"
}

// BulkGetResult pairs a requested item with its outcome.
type BulkGetResult struct {
	ID   string
	Docs []BulkGetDoc
}

// BulkGetDoc is either a retrieved document or an error, matching
// CouchDB's _bulk_get response shape of {"ok": doc} | {"error": ...}.
type BulkGetDoc struct {
	Doc   *Document
	Error *Error
}

// RevsDiffResult is one id's entry in a revs_diff response.
type RevsDiffResult struct {
	Missing           []rev.Revision
	PossibleAncestors []rev.Revision
}

// ChangeEvent describes one document's current state as of a sequence.
type ChangeEvent struct {
	Seq     rev.Seq
	ID      string
	Changes []rev.Revision // every currently open leaf
	Deleted bool
	Doc     *Document // populated when ChangesOptions.IncludeDocs is set
}

// ChangesOptions controls Adapter.Changes.
type ChangesOptions struct {
	Since       rev.Seq
	Limit       int
	Descending  bool
	IncludeDocs bool
	DocIDs      []string // nil means no doc-id filter
	Selector    json.RawMessage
}

// ChangesResponse is the one-shot result of Adapter.Changes.
type ChangesResponse struct {
	Results []ChangeEvent
	LastSeq rev.Seq
}

// AllDocsOptions controls Adapter.AllDocs.
type AllDocsOptions struct {
	StartKey     string
	EndKey       string
	Keys         []string // non-nil requests exactly this key set, in order
	Descending   bool
	Skip         int
	Limit        int
	InclusiveEnd bool
	IncludeDocs  bool
}

// AllDocsRow is one entry of an AllDocs response.
type AllDocsRow struct {
	ID  string
	Rev rev.Revision
	Doc *Document // set when IncludeDocs is requested
}

// AllDocsResponse is the result of Adapter.AllDocs.
type AllDocsResponse struct {
	TotalRows int
	Offset    int
	Rows      []AllDocsRow
}

// Info describes a database's aggregate state.
type Info struct {
	Name      string
	DocCount  int // excludes documents whose winner is deleted
	UpdateSeq rev.Seq
}

// ChangeNotifier is an optional capability: a backend that can push change
// notifications implements it so changesfeed.Live can wait on a channel
// instead of polling. The memory backend implements it; the embedded-KV and
// CouchDB backends do not, so changesfeed polls them.
type ChangeNotifier interface {
	// Notify returns a channel that receives one (seq, doc id) pair per
	// accepted write, and a function to stop receiving and release the
	// subscription. Slow subscribers may miss notifications under load; a
	// missed notification is always safe to recover from by re-reading
	// Changes from the last known sequence.
	Notify() (ch <-chan ChangeNotification, cancel func())
}

// ChangeNotification is one entry pushed by ChangeNotifier.Notify.
type ChangeNotification struct {
	Seq rev.Seq
	ID  string
}

// Adapter is the contract every backend implements. All
// operations take a context so the HTTP backend can honor cancellation and
// the embedded-KV backend can honor deadlines on disk I/O; the memory
// backend's operations never block on anything context can usefully cancel
// but accept one for interface uniformity.
type Adapter interface {
	Info(ctx context.Context) (Info, error)
	Get(ctx context.Context, id string, opts GetOptions) (Document, error)
	BulkDocs(ctx context.Context, docs []Document, opts BulkDocsOptions) ([]DocResult, error)
	BulkGet(ctx context.Context, items []BulkGetItem) ([]BulkGetResult, error)
	RevsDiff(ctx context.Context, claimed map[string][]rev.Revision) (map[string]RevsDiffResult, error)
	Changes(ctx context.Context, opts ChangesOptions) (ChangesResponse, error)
	AllDocs(ctx context.Context, opts AllDocsOptions) (AllDocsResponse, error)
	// PutLocal and GetLocal address the non-replicated local-doc
	// namespace. The id is the full local-doc id, "_local/" prefix
	// included; every backend stores and addresses it verbatim.
	PutLocal(ctx context.Context, id string, body json.RawMessage) error
	GetLocal(ctx context.Context, id string) (json.RawMessage, error)
}
