// Package memory is the process-local reference Adapter implementation:
// every document lives in Go maps behind one exclusive lock, and every
// accepted write fans a (seq, doc id) notification out to a mutex-guarded
// slice of subscriber channels. Fan-out is non-blocking so one slow
// receiver can't stall writers; lagged receivers resynchronize by
// re-reading Changes. It is the backend the rest of the module is tested
// against first, and the one replicate and changesfeed exercise in-process
// without a CouchDB server.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/evalgo-org/rouchdb/logging"
	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/revtree"
	"github.com/evalgo-org/rouchdb/store"
)

type bodyKey struct {
	id  string
	rev rev.Revision
}

// DB is the in-memory Adapter. The zero value is not usable; construct with
// New.
type DB struct {
	mu sync.RWMutex

	name       string
	docs       map[string]*store.DocMetadata
	bodies     map[bodyKey]json.RawMessage
	localDocs  map[string]json.RawMessage
	seqCounter uint64
	seqIndex   []string // doc id at each sequence, 1-indexed by seqCounter
	revLimit   int
	log        *logging.ContextLogger

	subsMu sync.Mutex
	subs   []chan store.ChangeNotification
}

// New constructs an empty in-memory database. opts.RevLimit of 0 falls back
// to store.DefaultRevLimit; opts.Name of "" falls back to "memory".
func New(opts store.Options) *DB {
	limit := opts.RevLimit
	if limit == 0 {
		limit = store.DefaultRevLimit
	}
	name := opts.Name
	if name == "" {
		name = "memory"
	}
	return &DB{
		name:      name,
		docs:      make(map[string]*store.DocMetadata),
		bodies:    make(map[bodyKey]json.RawMessage),
		localDocs: make(map[string]json.RawMessage),
		revLimit:  limit,
		log:       logging.BackendLogger("memory", name),
		seqIndex:  []string{""}, // index 0 unused so seq numbers are 1-based
	}
}

var _ store.Adapter = (*DB)(nil)
var _ store.ChangeNotifier = (*DB)(nil)

func (d *DB) Info(ctx context.Context) (store.Info, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, m := range d.docs {
		if !revtree.IsDeleted(m.Tree) {
			count++
		}
	}
	return store.Info{
		Name:      d.name,
		DocCount:  count,
		UpdateSeq: rev.FromUint64(d.seqCounter),
	}, nil
}

func (d *DB) Get(ctx context.Context, id string, opts store.GetOptions) (store.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getLocked(id, opts)
}

func (d *DB) getLocked(id string, opts store.GetOptions) (store.Document, error) {
	meta, ok := d.docs[id]
	if !ok {
		return store.Document{}, store.New(store.KindNotFound, "missing")
	}

	target := opts.Rev
	if target.IsZero() {
		winner, ok := revtree.Winner(meta.Tree)
		if !ok {
			return store.Document{}, store.New(store.KindNotFound, "no revisions")
		}
		if revtree.IsDeleted(meta.Tree) {
			return store.Document{}, store.New(store.KindNotFound, "deleted")
		}
		target = winner
	} else if _, _, ok := revtree.FindNode(meta.Tree, target.Pos, target.Hash); !ok {
		return store.Document{}, store.New(store.KindNotFound, "no such revision")
	}

	body, ok := d.bodies[bodyKey{id: id, rev: target}]
	if !ok {
		return store.Document{}, store.New(store.KindNotFound, "body unavailable (stemmed)")
	}

	leafDeleted := false
	for _, l := range revtree.CollectLeaves(meta.Tree) {
		if l.Revision() == target {
			leafDeleted = l.Deleted
			break
		}
	}

	doc := store.Document{ID: id, Rev: target, Deleted: leafDeleted, Body: body}
	if opts.Conflicts {
		doc.Conflicts = revtree.Conflicts(meta.Tree)
	}
	if opts.Revisions {
		doc.Revisions = ancestry(meta.Tree, target)
	}
	return doc, nil
}

// ancestry walks from (target's position, hash) back to the tree's root,
// returning the chain leaf-first.
func ancestry(tree revtree.Tree, target rev.Revision) []rev.Revision {
	_, path, ok := revtree.FindNode(tree, target.Pos, target.Hash)
	if !ok {
		return nil
	}
	var chain []rev.Revision
	pos := path.Pos
	n := path.Tree
	var forward []rev.Revision
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
	for i := len(forward) - 1; i >= 0; i-- {
		chain = append(chain, forward[i])
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

func (d *DB) BulkDocs(ctx context.Context, docs []store.Document, opts store.BulkDocsOptions) ([]store.DocResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	results := make([]store.DocResult, len(docs))
	var notifications []store.ChangeNotification

	for i, doc := range docs {
		if doc.ID == "" {
			results[i] = store.DocResult{Error: store.New(store.KindMissingID, "document id is required")}
			continue
		}

		meta, exists := d.docs[doc.ID]
		var tree revtree.Tree
		if exists {
			tree = meta.Tree
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
			var se *store.Error
			if e, ok := err.(*store.Error); ok {
				se = e
			} else {
				se = store.Wrap(store.KindDatabaseError, err)
			}
			d.log.WithField("doc_id", doc.ID).WithError(se).Debug("bulk_docs rejected")
			results[i] = store.DocResult{ID: doc.ID, Error: se}
			continue
		}

		d.seqCounter++
		seq := d.seqCounter
		d.seqIndex = append(d.seqIndex, doc.ID)
		d.docs[doc.ID] = &store.DocMetadata{ID: doc.ID, Tree: merged, Seq: rev.FromUint64(seq)}
		d.bodies[bodyKey{id: doc.ID, rev: newRev}] = doc.Body
		for _, drop := range dropped {
			delete(d.bodies, bodyKey{id: doc.ID, rev: rev.New(drop.Pos, drop.Hash)})
		}

		results[i] = store.DocResult{ID: doc.ID, Rev: newRev, Ok: true}
		notifications = append(notifications, store.ChangeNotification{Seq: rev.FromUint64(seq), ID: doc.ID})
	}

	d.log.WithFields(map[string]interface{}{
		"docs":      len(docs),
		"accepted":  len(notifications),
		"new_edits": opts.NewEdits,
		"seq":       d.seqCounter,
	}).Debug("bulk_docs")

	for _, n := range notifications {
		d.broadcast(n)
	}
	return results, nil
}

func (d *DB) BulkGet(ctx context.Context, items []store.BulkGetItem) ([]store.BulkGetResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]store.BulkGetResult, len(items))
	for i, item := range items {
		doc, err := d.getLocked(item.ID, store.GetOptions{Rev: item.Rev, Revisions: true})
		if err != nil {
			var se *store.Error
			if e, ok := err.(*store.Error); ok {
				se = e
			} else {
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
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]store.RevsDiffResult, len(claimed))
	for id, revs := range claimed {
		var result store.RevsDiffResult
		meta, exists := d.docs[id]
		for _, r := range revs {
			if exists {
				if _, _, ok := revtree.FindNode(meta.Tree, r.Pos, r.Hash); ok {
					continue
				}
			}
			result.Missing = append(result.Missing, r)
			if exists {
				result.PossibleAncestors = append(result.PossibleAncestors, revtree.PossibleAncestors(meta.Tree, r)...)
			}
		}
		if len(result.Missing) > 0 {
			out[id] = result
		}
	}
	return out, nil
}

func (d *DB) Changes(ctx context.Context, opts store.ChangesOptions) (store.ChangesResponse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	since := opts.Since.Num()
	allowed := map[string]bool{}
	for _, id := range opts.DocIDs {
		allowed[id] = true
	}

	seen := map[string]bool{}
	var events []store.ChangeEvent
	for s := since + 1; s < uint64(len(d.seqIndex)); s++ {
		id := d.seqIndex[s]
		if id == "" || seen[id] {
			continue
		}
		if len(opts.DocIDs) > 0 && !allowed[id] {
			continue
		}
		meta := d.docs[id]
		if meta.Seq.Num() < s {
			// A later write superseded this entry; the live sequence for
			// id is meta.Seq, which will be visited in its own iteration.
			continue
		}
		seen[id] = true
		leaves := revtree.CollectLeaves(meta.Tree)
		changeRevs := make([]rev.Revision, len(leaves))
		for i, l := range leaves {
			changeRevs[i] = l.Revision()
		}
		event := store.ChangeEvent{
			Seq:     meta.Seq,
			ID:      id,
			Changes: changeRevs,
			Deleted: revtree.IsDeleted(meta.Tree),
		}
		if opts.IncludeDocs {
			if doc, err := d.getLocked(id, store.GetOptions{}); err == nil {
				event.Doc = &doc
			}
		}
		events = append(events, event)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if opts.Descending {
			return events[i].Seq.Num() > events[j].Seq.Num()
		}
		return events[i].Seq.Num() < events[j].Seq.Num()
	})

	lastSeq := opts.Since
	if opts.Limit > 0 && len(events) > opts.Limit {
		events = events[:opts.Limit]
	}
	if len(events) > 0 {
		lastSeq = events[len(events)-1].Seq
	} else if !opts.Descending {
		lastSeq = rev.FromUint64(d.seqCounter)
	}

	return store.ChangesResponse{Results: events, LastSeq: lastSeq}, nil
}

func (d *DB) AllDocs(ctx context.Context, opts store.AllDocsOptions) (store.AllDocsResponse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.docs))
	if len(opts.Keys) > 0 {
		ids = append(ids, opts.Keys...)
	} else {
		for id := range d.docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	var rows []store.AllDocsRow
	for _, id := range ids {
		meta, ok := d.docs[id]
		if !ok {
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
		if revtree.IsDeleted(meta.Tree) {
			continue
		}
		winner, ok := revtree.Winner(meta.Tree)
		if !ok {
			continue
		}
		row := store.AllDocsRow{ID: id, Rev: winner}
		if opts.IncludeDocs {
			if doc, err := d.getLocked(id, store.GetOptions{}); err == nil {
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

	return store.AllDocsResponse{TotalRows: total, Offset: opts.Skip, Rows: rows}, nil
}

func (d *DB) PutLocal(ctx context.Context, id string, body json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localDocs[id] = body
	return nil
}

func (d *DB) GetLocal(ctx context.Context, id string) (json.RawMessage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	body, ok := d.localDocs[id]
	if !ok {
		return nil, store.New(store.KindNotFound, "no local doc")
	}
	return body, nil
}

// Notify implements store.ChangeNotifier. The returned channel is buffered
// so a momentary burst of writes doesn't force writers to block on a slow
// subscriber; if the buffer fills, further notifications to that
// subscriber are dropped and it must catch up via Changes.
func (d *DB) Notify() (<-chan store.ChangeNotification, func()) {
	ch := make(chan store.ChangeNotification, 64)

	d.subsMu.Lock()
	d.subs = append(d.subs, ch)
	d.subsMu.Unlock()

	cancel := func() {
		d.subsMu.Lock()
		defer d.subsMu.Unlock()
		for i, s := range d.subs {
			if s == ch {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (d *DB) broadcast(n store.ChangeNotification) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- n:
		default:
			// subscriber is lagging; it will resynchronize via Changes.
		}
	}
}
