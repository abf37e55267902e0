package store

import (
	"context"

	"github.com/evalgo-org/rouchdb/rev"
)

// Put writes a single document as a plain edit and returns its new
// revision. It is BulkDocs with a one-element batch and new_edits=true:
// creating a document when doc.Rev is zero, extending the named revision
// otherwise, with the same Conflict semantics either way.
func Put(ctx context.Context, adapter Adapter, doc Document) (rev.Revision, error) {
	if doc.ID == "" {
		return rev.Revision{}, New(KindMissingID, "document id is required")
	}
	results, err := adapter.BulkDocs(ctx, []Document{doc}, BulkDocsOptions{NewEdits: true})
	if err != nil {
		return rev.Revision{}, err
	}
	if len(results) != 1 {
		return rev.Revision{}, New(KindDatabaseError, "bulk_docs returned an unexpected result count")
	}
	if results[0].Error != nil {
		return rev.Revision{}, results[0].Error
	}
	return results[0].Rev, nil
}

// Update is Put for an existing document: doc.Rev must name the parent
// revision being edited.
func Update(ctx context.Context, adapter Adapter, doc Document) (rev.Revision, error) {
	if doc.Rev.IsZero() {
		return rev.Revision{}, New(KindInvalidRev, "update requires the parent revision")
	}
	return Put(ctx, adapter, doc)
}

// OpenRevs fetches every open (leaf) revision of a document, deleted
// tombstones included: the set of leaves is read off the changes feed (the
// one place the contract exposes all of them at once) and each is fetched
// explicitly. Leaves whose bodies are no longer retrievable (stemmed away)
// are skipped. Returns NotFound if the document has never been written.
func OpenRevs(ctx context.Context, adapter Adapter, id string) ([]Document, error) {
	resp, err := adapter.Changes(ctx, ChangesOptions{DocIDs: []string{id}})
	if err != nil {
		return nil, err
	}

	var docs []Document
	for _, e := range resp.Results {
		if e.ID != id {
			continue
		}
		for _, r := range e.Changes {
			doc, err := adapter.Get(ctx, id, GetOptions{Rev: r})
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return nil, New(KindNotFound, "missing")
	}
	return docs, nil
}

// Remove deletes the revision r of document id by writing a tombstone edit
// on top of it. The document stays in the revision tree (deletion is a
// normal edit whose leaf carries deleted=true); Get without an explicit rev
// reports NotFound once the tombstone wins.
func Remove(ctx context.Context, adapter Adapter, id string, r rev.Revision) (rev.Revision, error) {
	if r.IsZero() {
		return rev.Revision{}, New(KindInvalidRev, "remove requires the revision being deleted")
	}
	return Put(ctx, adapter, Document{ID: id, Rev: r, Deleted: true, Body: []byte(`{}`)})
}
