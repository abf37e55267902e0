package replicate

import (
	"context"
	"encoding/json"

	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/store"
)

// checkpoint is the local-doc shape persisted on both source and target
// under CheckpointDocID(replicationID), modeled on CouchDB's own
// "_local/<replication id>" checkpoint documents: the last sequence this
// replication read on the source, plus a short history so a disagreement
// between the two sides can be resolved to the more conservative entry.
type checkpoint struct {
	ReplicationID string         `json:"replication_id"`
	SourceLastSeq string         `json:"source_last_seq"`
	History       []historyEntry `json:"history"`
}

type historyEntry struct {
	LastSeq     string `json:"last_seq"`
	DocsRead    int    `json:"docs_read"`
	DocsWritten int    `json:"docs_written"`
}

const maxHistory = 5

// loadCheckpoint reads the checkpoint doc from adapter, returning the zero
// checkpoint and ok=false if none has been written yet (a fresh replication
// starts from rev.Zero, i.e. "from the beginning").
func loadCheckpoint(ctx context.Context, adapter store.Adapter, replicationID string) (checkpoint, bool, error) {
	body, err := adapter.GetLocal(ctx, CheckpointDocID(replicationID))
	if err != nil {
		if store.IsNotFound(err) {
			return checkpoint{}, false, nil
		}
		return checkpoint{}, false, err
	}
	var cp checkpoint
	if err := json.Unmarshal(body, &cp); err != nil {
		return checkpoint{}, false, err
	}
	return cp, true, nil
}

// saveCheckpoint persists a checkpoint to both source and target under the
// same "_local/" id. history is prepended with the new entry and truncated
// to the most recent maxHistory entries (CouchDB does the same to keep the
// checkpoint doc bounded); the truncated slice is returned so the caller can
// seed the next call.
func saveCheckpoint(ctx context.Context, source, target store.Adapter, replicationID string, lastSeq rev.Seq, docsRead, docsWritten int, history []historyEntry) ([]historyEntry, error) {
	entry := historyEntry{LastSeq: lastSeq.String(), DocsRead: docsRead, DocsWritten: docsWritten}
	history = append([]historyEntry{entry}, history...)
	if len(history) > maxHistory {
		history = history[:maxHistory]
	}

	cp := checkpoint{
		ReplicationID: replicationID,
		SourceLastSeq: lastSeq.String(),
		History:       history,
	}

	body, err := json.Marshal(cp)
	if err != nil {
		return history, err
	}
	if err := target.PutLocal(ctx, CheckpointDocID(replicationID), body); err != nil {
		return history, err
	}
	return history, source.PutLocal(ctx, CheckpointDocID(replicationID), body)
}

// resolveLastSeq picks the resume point: if the source and target
// checkpoints disagree on last_seq, resume from the lower (more
// conservative) of the two, so a replica that fell behind on one side never
// has a gap skipped over it.
func resolveLastSeq(sourceCP, targetCP checkpoint, sourceOK, targetOK bool) rev.Seq {
	switch {
	case !sourceOK && !targetOK:
		return rev.Zero
	case !sourceOK:
		return rev.ParseQueryValue(targetCP.SourceLastSeq)
	case !targetOK:
		return rev.ParseQueryValue(sourceCP.SourceLastSeq)
	}
	s := rev.ParseQueryValue(sourceCP.SourceLastSeq)
	t := rev.ParseQueryValue(targetCP.SourceLastSeq)
	if s.Less(t) {
		return s
	}
	return t
}
