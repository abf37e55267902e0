// Package kvstore is the persistent Adapter backend over an embedded
// ordered key-value store: one bbolt file holding five buckets (meta, body,
// by_seq, local, info), one bucket per concern, JSON values
// marshaled/unmarshaled inside an Update/View closure. Body keys carry the
// doc id plus a big-endian position so sibling revisions sort together;
// by_seq keys are big-endian sequences so changes-feed scans are ordered
// cursor walks.
package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/evalgo-org/rouchdb/logging"
	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/revtree"
	"github.com/evalgo-org/rouchdb/store"
)

const (
	bucketMeta  = "meta"
	bucketBody  = "body"
	bucketBySeq = "by_seq"
	bucketLocal = "local"
	bucketInfo  = "info"

	infoKeyNextSeq = "next_seq"
)

// DB is the embedded-KV Adapter, backed by a single bbolt file.
type DB struct {
	name     string
	bolt     *bolt.DB
	revLimit int
	log      *logging.ContextLogger
}

// Open opens (creating if necessary) a bbolt-backed database at path and
// ensures all five tables exist. opts.Name of "" falls back to "kvstore".
func Open(path string, opts store.Options) (*DB, error) {
	limit := opts.RevLimit
	if limit == 0 {
		limit = store.DefaultRevLimit
	}
	name := opts.Name
	if name == "" {
		name = "kvstore"
	}

	b, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}

	err = b.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketMeta, bucketBody, bucketBySeq, bucketLocal, bucketInfo} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("kvstore: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		b.Close()
		return nil, err
	}

	return &DB{name: name, bolt: b, revLimit: limit, log: logging.BackendLogger("kvstore", name)}, nil
}

// Close releases the underlying file.
func (d *DB) Close() error { return d.bolt.Close() }

var _ store.Adapter = (*DB)(nil)

// metaRecordVersion tags the serialized rev-tree layout in the meta bucket
// so a future format change is detected on read instead of misparsed.
const metaRecordVersion = 1

// metaRecord is the JSON shape stored in the meta bucket.
type metaRecord struct {
	Version int          `json:"v"`
	Tree    revtree.Tree `json:"tree"`
	Seq     uint64       `json:"seq"`
}

func bodyKey(id string, r rev.Revision) []byte {
	key := make([]byte, 0, len(id)+1+8+len(r.Hash))
	key = append(key, []byte(id)...)
	key = append(key, 0)
	var posBuf [8]byte
	binary.BigEndian.PutUint64(posBuf[:], r.Pos)
	key = append(key, posBuf[:]...)
	key = append(key, []byte(r.Hash)...)
	return key
}

func seqKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

func (d *DB) nextSeq(tx *bolt.Tx) (uint64, error) {
	info := tx.Bucket([]byte(bucketInfo))
	raw := info.Get([]byte(infoKeyNextSeq))
	var cur uint64
	if raw != nil {
		cur = binary.BigEndian.Uint64(raw)
	}
	cur++
	return cur, info.Put([]byte(infoKeyNextSeq), seqKey(cur))
}

func (d *DB) readMeta(tx *bolt.Tx, id string) (*metaRecord, bool, error) {
	raw := tx.Bucket([]byte(bucketMeta)).Get([]byte(id))
	if raw == nil {
		return nil, false, nil
	}
	var rec metaRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	if rec.Version > metaRecordVersion {
		return nil, false, fmt.Errorf("meta record for %q has version %d, this build reads up to %d", id, rec.Version, metaRecordVersion)
	}
	return &rec, true, nil
}

func (d *DB) writeMeta(tx *bolt.Tx, id string, rec metaRecord) error {
	rec.Version = metaRecordVersion
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucketMeta)).Put([]byte(id), data)
}

func (d *DB) Info(ctx context.Context) (store.Info, error) {
	var result store.Info
	err := d.bolt.View(func(tx *bolt.Tx) error {
		count := 0
		err := tx.Bucket([]byte(bucketMeta)).ForEach(func(k, v []byte) error {
			var rec metaRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !revtree.IsDeleted(rec.Tree) {
				count++
			}
			return nil
		})
		if err != nil {
			return err
		}
		raw := tx.Bucket([]byte(bucketInfo)).Get([]byte(infoKeyNextSeq))
		var seq uint64
		if raw != nil {
			seq = binary.BigEndian.Uint64(raw)
		}
		result = store.Info{Name: d.name, DocCount: count, UpdateSeq: rev.FromUint64(seq)}
		return nil
	})
	return result, err
}

func (d *DB) Get(ctx context.Context, id string, opts store.GetOptions) (store.Document, error) {
	var doc store.Document
	err := d.bolt.View(func(tx *bolt.Tx) error {
		rec, ok, err := d.readMeta(tx, id)
		if err != nil {
			return store.Wrap(store.KindJSON, err)
		}
		if !ok {
			return store.New(store.KindNotFound, "missing")
		}

		target := opts.Rev
		if target.IsZero() {
			winner, ok := revtree.Winner(rec.Tree)
			if !ok {
				return store.New(store.KindNotFound, "no revisions")
			}
			if revtree.IsDeleted(rec.Tree) {
				return store.New(store.KindNotFound, "deleted")
			}
			target = winner
		} else if _, _, ok := revtree.FindNode(rec.Tree, target.Pos, target.Hash); !ok {
			return store.New(store.KindNotFound, "no such revision")
		}

		body := tx.Bucket([]byte(bucketBody)).Get(bodyKey(id, target))
		if body == nil {
			return store.New(store.KindNotFound, "body unavailable (stemmed)")
		}
		bodyCopy := append([]byte(nil), body...)

		leafDeleted := false
		for _, l := range revtree.CollectLeaves(rec.Tree) {
			if l.Revision() == target {
				leafDeleted = l.Deleted
				break
			}
		}

		doc = store.Document{ID: id, Rev: target, Deleted: leafDeleted, Body: bodyCopy}
		if opts.Conflicts {
			doc.Conflicts = revtree.Conflicts(rec.Tree)
		}
		if opts.Revisions {
			doc.Revisions = ancestry(rec.Tree, target)
		}
		return nil
	})
	if err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

func (d *DB) BulkDocs(ctx context.Context, docs []store.Document, opts store.BulkDocsOptions) ([]store.DocResult, error) {
	results := make([]store.DocResult, len(docs))

	opLog := d.log.WithFields(map[string]interface{}{
		"docs":      len(docs),
		"new_edits": opts.NewEdits,
	})
	err := logging.LogOperation(opLog, "bulk_docs", func() error {
		return d.bolt.Update(func(tx *bolt.Tx) error {
			for i, doc := range docs {
				if doc.ID == "" {
					results[i] = store.DocResult{Error: store.New(store.KindMissingID, "document id is required")}
					continue
				}

				rec, exists, err := d.readMeta(tx, doc.ID)
				if err != nil {
					results[i] = store.DocResult{ID: doc.ID, Error: store.Wrap(store.KindJSON, err)}
					continue
				}
				var tree revtree.Tree
				if exists {
					tree = rec.Tree
				}

				var revisions []rev.Revision
				if !opts.NewEdits {
					revisions = doc.Revisions
					if len(revisions) == 0 {
						revisions = []rev.Revision{doc.Rev}
					}
				}

				merged, newRev, _, dropped, err := store.ApplyEdit(tree, opts, doc.Rev, revisions, doc.Deleted, doc.Body, d.revLimit)
				if err != nil {
					se, ok := err.(*store.Error)
					if !ok {
						se = store.Wrap(store.KindDatabaseError, err)
					}
					results[i] = store.DocResult{ID: doc.ID, Error: se}
					continue
				}

				seq, err := d.nextSeq(tx)
				if err != nil {
					results[i] = store.DocResult{ID: doc.ID, Error: store.Wrap(store.KindIO, err)}
					continue
				}

				if err := d.writeMeta(tx, doc.ID, metaRecord{Tree: merged, Seq: seq}); err != nil {
					results[i] = store.DocResult{ID: doc.ID, Error: store.Wrap(store.KindJSON, err)}
					continue
				}
				if err := tx.Bucket([]byte(bucketBody)).Put(bodyKey(doc.ID, newRev), doc.Body); err != nil {
					results[i] = store.DocResult{ID: doc.ID, Error: store.Wrap(store.KindIO, err)}
					continue
				}
				for _, drop := range dropped {
					_ = tx.Bucket([]byte(bucketBody)).Delete(bodyKey(doc.ID, rev.New(drop.Pos, drop.Hash)))
				}
				if err := tx.Bucket([]byte(bucketBySeq)).Put(seqKey(seq), []byte(doc.ID)); err != nil {
					results[i] = store.DocResult{ID: doc.ID, Error: store.Wrap(store.KindIO, err)}
					continue
				}

				results[i] = store.DocResult{ID: doc.ID, Rev: newRev, Ok: true}
			}
			return nil
		})
	})
	if err != nil {
		return nil, store.Wrap(store.KindIO, err)
	}
	return results, nil
}

func (d *DB) BulkGet(ctx context.Context, items []store.BulkGetItem) ([]store.BulkGetResult, error) {
	out := make([]store.BulkGetResult, len(items))
	for i, item := range items {
		doc, err := d.Get(ctx, item.ID, store.GetOptions{Rev: item.Rev, Revisions: true})
		if err != nil {
			se, ok := err.(*store.Error)
			if !ok {
				se = store.Wrap(store.KindDatabaseError, err)
			}
			out[i] = store.BulkGetResult{ID: item.ID, Docs: []store.BulkGetDoc{{Error: se}}}
			continue
		}
		out[i] = store.BulkGetResult{ID: item.ID, Docs: []store.BulkGetDoc{{Doc: &doc}}}
	}
	return out, nil
}

func (d *DB) RevsDiff(ctx context.Context, claimed map[string][]rev.Revision) (map[string]store.RevsDiffResult, error) {
	out := make(map[string]store.RevsDiffResult, len(claimed))
	err := d.bolt.View(func(tx *bolt.Tx) error {
		for id, revs := range claimed {
			rec, exists, err := d.readMeta(tx, id)
			if err != nil {
				return store.Wrap(store.KindJSON, err)
			}
			var result store.RevsDiffResult
			for _, r := range revs {
				if exists {
					if _, _, ok := revtree.FindNode(rec.Tree, r.Pos, r.Hash); ok {
						continue
					}
				}
				result.Missing = append(result.Missing, r)
				if exists {
					result.PossibleAncestors = append(result.PossibleAncestors, revtree.PossibleAncestors(rec.Tree, r)...)
				}
			}
			if len(result.Missing) > 0 {
				out[id] = result
			}
		}
		return nil
	})
	return out, err
}

func (d *DB) Changes(ctx context.Context, opts store.ChangesOptions) (store.ChangesResponse, error) {
	var resp store.ChangesResponse
	allowed := map[string]bool{}
	for _, id := range opts.DocIDs {
		allowed[id] = true
	}

	err := d.bolt.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketBySeq)).Cursor()
		since := opts.Since.Num()

		seen := map[string]bool{}
		var events []store.ChangeEvent
		for k, v := cursor.Seek(seqKey(since + 1)); k != nil; k, v = cursor.Next() {
			s := binary.BigEndian.Uint64(k)
			id := string(v)
			if seen[id] {
				continue
			}
			if len(opts.DocIDs) > 0 && !allowed[id] {
				continue
			}
			rec, exists, err := d.readMeta(tx, id)
			if err != nil {
				return store.Wrap(store.KindJSON, err)
			}
			if !exists || rec.Seq != s {
				continue // superseded by a later write to the same doc
			}
			seen[id] = true

			leaves := revtree.CollectLeaves(rec.Tree)
			changeRevs := make([]rev.Revision, len(leaves))
			for i, l := range leaves {
				changeRevs[i] = l.Revision()
			}
			event := store.ChangeEvent{
				Seq:     rev.FromUint64(s),
				ID:      id,
				Changes: changeRevs,
				Deleted: revtree.IsDeleted(rec.Tree),
			}
			if opts.IncludeDocs {
				if doc, err := d.Get(ctx, id, store.GetOptions{}); err == nil {
					event.Doc = &doc
				}
			}
			events = append(events, event)
		}

		if opts.Descending {
			for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
				events[i], events[j] = events[j], events[i]
			}
		}
		if opts.Limit > 0 && len(events) > opts.Limit {
			events = events[:opts.Limit]
		}

		lastSeq := opts.Since
		if len(events) > 0 {
			lastSeq = events[len(events)-1].Seq
		} else {
			raw := tx.Bucket([]byte(bucketInfo)).Get([]byte(infoKeyNextSeq))
			if raw != nil {
				lastSeq = rev.FromUint64(binary.BigEndian.Uint64(raw))
			}
		}
		resp = store.ChangesResponse{Results: events, LastSeq: lastSeq}
		return nil
	})
	return resp, err
}

func (d *DB) AllDocs(ctx context.Context, opts store.AllDocsOptions) (store.AllDocsResponse, error) {
	var resp store.AllDocsResponse
	err := d.bolt.View(func(tx *bolt.Tx) error {
		var ids []string
		if len(opts.Keys) > 0 {
			ids = append(ids, opts.Keys...)
		} else {
			if err := tx.Bucket([]byte(bucketMeta)).ForEach(func(k, v []byte) error {
				ids = append(ids, string(k))
				return nil
			}); err != nil {
				return err
			}
			sort.Strings(ids)
		}

		var rows []store.AllDocsRow
		for _, id := range ids {
			rec, exists, err := d.readMeta(tx, id)
			if err != nil || !exists {
				continue
			}
			if opts.StartKey != "" && id < opts.StartKey {
				continue
			}
			if opts.EndKey != "" {
				if opts.InclusiveEnd && id > opts.EndKey {
					continue
				}
				if !opts.InclusiveEnd && id >= opts.EndKey {
					continue
				}
			}
			if revtree.IsDeleted(rec.Tree) {
				continue
			}
			winner, ok := revtree.Winner(rec.Tree)
			if !ok {
				continue
			}
			row := store.AllDocsRow{ID: id, Rev: winner}
			if opts.IncludeDocs {
				if doc, err := d.Get(ctx, id, store.GetOptions{}); err == nil {
					row.Doc = &doc
				}
			}
			rows = append(rows, row)
		}

		if opts.Descending {
			for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
				rows[i], rows[j] = rows[j], rows[i]
			}
		}
		total := len(rows)
		if opts.Skip > 0 && opts.Skip < len(rows) {
			rows = rows[opts.Skip:]
		} else if opts.Skip >= len(rows) {
			rows = nil
		}
		if opts.Limit > 0 && len(rows) > opts.Limit {
			rows = rows[:opts.Limit]
		}

		resp = store.AllDocsResponse{TotalRows: total, Offset: opts.Skip, Rows: rows}
		return nil
	})
	return resp, err
}

func (d *DB) PutLocal(ctx context.Context, id string, body json.RawMessage) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLocal)).Put([]byte(id), body)
	})
}

func (d *DB) GetLocal(ctx context.Context, id string) (json.RawMessage, error) {
	var body json.RawMessage
	err := d.bolt.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketLocal)).Get([]byte(id))
		if raw == nil {
			return store.New(store.KindNotFound, "no local doc")
		}
		body = append(json.RawMessage(nil), raw...)
		return nil
	})
	return body, err
}

// ancestry walks target's path from root to leaf and returns the chain
// newest-first, the shape store.Document.Revisions carries and the
// replicator sends on as a claimed _revisions history (same algorithm as
// store/memory's ancestry, since both backends share the same Tree shape).
func ancestry(tree revtree.Tree, target rev.Revision) []rev.Revision {
	_, path, ok := revtree.FindNode(tree, target.Pos, target.Hash)
	if !ok {
		return nil
	}
	var forward []rev.Revision
	pos := path.Pos
	n := path.Tree
	for n != nil {
		forward = append(forward, rev.New(pos, n.Hash))
		if pos == target.Pos {
			break
		}
		found := false
		for _, c := range n.Children {
			if containsPos(c, pos+1, target.Pos, target.Hash) {
				n = c
				pos++
				found = true
				break
			}
		}
		if !found {
			break
		}
	}
	chain := make([]rev.Revision, len(forward))
	for i, r := range forward {
		chain[len(forward)-1-i] = r
	}
	return chain
}

func containsPos(n *revtree.Node, pos, targetPos uint64, targetHash string) bool {
	if pos == targetPos {
		return n.Hash == targetHash
	}
	for _, c := range n.Children {
		if containsPos(c, pos+1, targetPos, targetHash) {
			return true
		}
	}
	return false
}
