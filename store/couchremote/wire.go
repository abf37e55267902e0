package couchremote

import (
	"encoding/json"

	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/store"
)

// wireDoc converts a store.Document into the map CouchDB expects on the
// wire: the body's fields plus the underscore metadata fields. When
// newEdits is false (replication writes) the full claimed ancestry is sent
// as _revisions so the target grafts it onto its tree instead of assigning
// a fresh revision.
func wireDoc(doc store.Document, newEdits bool) (map[string]interface{}, error) {
	m := map[string]interface{}{}
	if len(doc.Body) > 0 {
		if err := json.Unmarshal(doc.Body, &m); err != nil {
			return nil, err
		}
	}

	m["_id"] = doc.ID
	if doc.Deleted {
		m["_deleted"] = true
	}

	if newEdits {
		if !doc.Rev.IsZero() {
			m["_rev"] = doc.Rev.String()
		}
		return m, nil
	}

	chain := doc.Revisions
	if len(chain) == 0 {
		chain = []rev.Revision{doc.Rev}
	}
	ids := make([]string, len(chain))
	for i, r := range chain {
		ids[i] = r.Hash
	}
	m["_rev"] = chain[0].String()
	m["_revisions"] = map[string]interface{}{
		"start": chain[0].Pos,
		"ids":   ids,
	}
	return m, nil
}

// docFromRaw converts a raw CouchDB document (as scanned off the wire by
// kivik) back into a store.Document, stripping the underscore fields out of
// Body so callers see the same body shape regardless of backend.
func docFromRaw(raw map[string]interface{}) (store.Document, error) {
	id, _ := raw["_id"].(string)

	var r rev.Revision
	if revStr, ok := raw["_rev"].(string); ok && revStr != "" {
		parsed, err := rev.Parse(revStr)
		if err != nil {
			return store.Document{}, store.Wrap(store.KindInvalidRev, err)
		}
		r = parsed
	}

	deleted, _ := raw["_deleted"].(bool)

	var conflicts []rev.Revision
	if arr, ok := raw["_conflicts"].([]interface{}); ok {
		for _, c := range arr {
			if s, ok := c.(string); ok {
				if cr, err := rev.Parse(s); err == nil {
					conflicts = append(conflicts, cr)
				}
			}
		}
	}

	var revisions []rev.Revision
	if rh, ok := raw["_revisions"].(map[string]interface{}); ok {
		revisions = revisionsFromWire(rh)
	}

	delete(raw, "_id")
	delete(raw, "_rev")
	delete(raw, "_deleted")
	delete(raw, "_conflicts")
	delete(raw, "_revisions")
	delete(raw, "_attachments")

	body, err := json.Marshal(raw)
	if err != nil {
		return store.Document{}, store.Wrap(store.KindJSON, err)
	}

	return store.Document{
		ID:        id,
		Rev:       r,
		Deleted:   deleted,
		Body:      body,
		Conflicts: conflicts,
		Revisions: revisions,
	}, nil
}

// revisionsFromWire expands a CouchDB {"start": N, "ids": [h0, h1, ...]}
// _revisions object into the leaf-first []rev.Revision chain store.Document
// carries.
func revisionsFromWire(rh map[string]interface{}) []rev.Revision {
	start, ok := rh["start"].(float64)
	if !ok {
		return nil
	}
	idsRaw, ok := rh["ids"].([]interface{})
	if !ok {
		return nil
	}
	revisions := make([]rev.Revision, 0, len(idsRaw))
	pos := uint64(start)
	for _, idv := range idsRaw {
		if pos == 0 {
			break
		}
		hash, ok := idv.(string)
		if !ok {
			break
		}
		revisions = append(revisions, rev.New(pos, hash))
		pos--
	}
	return revisions
}
