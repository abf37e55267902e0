// Package replicate implements checkpointed, incremental replication:
// compute a deterministic replication id, resume from the lower of the two
// sides' last checkpoint, then loop rev-diff + bulk-get + bulk-docs batches
// until the source reports no further changes. The protocol is plain
// request/response composition over store.Adapter; the adapter supplies
// every suspension point.
package replicate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/evalgo-org/rouchdb/logging"
	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/store"
)

// DocWriteFailure records one document that the target rejected during a
// bulk_docs call; a per-document failure never aborts the rest of the
// batch.
type DocWriteFailure struct {
	ID    string
	Rev   rev.Revision
	Error error
}

// Result is the aggregate outcome of a Run call.
type Result struct {
	OK               bool
	DocsRead         int
	DocsWritten      int
	LastSeq          rev.Seq
	DocWriteFailures []DocWriteFailure
}

// Run replicates from source to target until source reports no further
// changes past the resumed checkpoint. It is idempotent: calling it again
// immediately after a successful run with no intervening source writes
// reads zero changes and writes zero documents.
func Run(ctx context.Context, source, target store.Adapter, opts Options) (Result, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	checkpointInterval := opts.CheckpointInterval
	if checkpointInterval <= 0 {
		checkpointInterval = DefaultCheckpointInterval
	}

	sourceInfo, err := source.Info(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("replicate: source info: %w", err)
	}
	targetInfo, err := target.Info(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("replicate: target info: %w", err)
	}

	replicationID := ID(sourceInfo.Name, targetInfo.Name, opts)
	// runID distinguishes this invocation's log lines from any other
	// concurrent or prior Run of the same replicationID, which is stable
	// across runs.
	runID := uuid.New().String()[:8]
	log := logging.ReplicationLogger(replicationID).WithField("run_id", runID)

	sourceCP, sourceOK, err := loadCheckpoint(ctx, source, replicationID)
	if err != nil {
		return Result{}, fmt.Errorf("replicate: load source checkpoint: %w", err)
	}
	targetCP, targetOK, err := loadCheckpoint(ctx, target, replicationID)
	if err != nil {
		return Result{}, fmt.Errorf("replicate: load target checkpoint: %w", err)
	}
	lastSeq := resolveLastSeq(sourceCP, targetCP, sourceOK, targetOK)
	// Both sides are written identically by saveCheckpoint, so their history
	// only disagrees right after an interrupted run; prefer whichever side
	// actually has one.
	history := sourceCP.History
	if !sourceOK {
		history = targetCP.History
	}

	log.WithField("resume_seq", lastSeq.String()).Info("replication starting")

	result := Result{LastSeq: lastSeq}
	batches := 0

	for {
		changesOpts := store.ChangesOptions{
			Since:       lastSeq,
			Limit:       batchSize,
			IncludeDocs: false,
			DocIDs:      opts.DocIDs,
		}
		if opts.Selector != "" {
			changesOpts.Selector = []byte(opts.Selector)
		}
		batch, err := source.Changes(ctx, changesOpts)
		if err != nil {
			return result, fmt.Errorf("replicate: source changes: %w", err)
		}
		if len(batch.Results) == 0 {
			break
		}

		written, failures, err := replicateBatch(ctx, source, target, batch.Results)
		result.DocsRead += len(batch.Results)
		result.DocsWritten += written
		result.DocWriteFailures = append(result.DocWriteFailures, failures...)
		if err != nil {
			// No checkpoint is written for a batch that errors outright; the
			// next run resumes from the last committed checkpoint.
			log.WithError(err).Error("replication batch failed, stopping without checkpoint")
			return result, fmt.Errorf("replicate: batch: %w", err)
		}

		lastSeq = batch.LastSeq
		result.LastSeq = lastSeq
		batches++

		if batches%checkpointInterval == 0 {
			history, err = saveCheckpoint(ctx, source, target, replicationID, lastSeq, result.DocsRead, result.DocsWritten, history)
			if err != nil {
				return result, fmt.Errorf("replicate: checkpoint: %w", err)
			}
		}

		if len(batch.Results) < batchSize {
			break
		}
	}

	if _, err := saveCheckpoint(ctx, source, target, replicationID, lastSeq, result.DocsRead, result.DocsWritten, history); err != nil {
		return result, fmt.Errorf("replicate: final checkpoint: %w", err)
	}

	result.OK = true
	log.WithFields(logging.ReplicationFields(replicationID, result.DocsRead, result.DocsWritten, lastSeq.String())).Info("replication finished")
	return result, nil
}

// replicateBatch processes one batch of source changes: diff against the
// target's tree, pull full-ancestry bodies for whatever the target is
// missing, and write them with edit suppression.
func replicateBatch(ctx context.Context, source, target store.Adapter, events []store.ChangeEvent) (int, []DocWriteFailure, error) {
	request := make(map[string][]rev.Revision, len(events))
	for _, e := range events {
		if len(e.Changes) > 0 {
			request[e.ID] = e.Changes
		}
	}
	if len(request) == 0 {
		return 0, nil, nil
	}

	diff, err := target.RevsDiff(ctx, request)
	if err != nil {
		return 0, nil, fmt.Errorf("revs_diff: %w", err)
	}
	if len(diff) == 0 {
		return 0, nil, nil
	}

	var items []store.BulkGetItem
	for id, d := range diff {
		for _, r := range d.Missing {
			items = append(items, store.BulkGetItem{ID: id, Rev: r})
		}
	}
	if len(items) == 0 {
		return 0, nil, nil
	}

	fetched, err := source.BulkGet(ctx, items)
	if err != nil {
		return 0, nil, fmt.Errorf("bulk_get: %w", err)
	}

	var docs []store.Document
	var failures []DocWriteFailure
	for _, r := range fetched {
		for _, d := range r.Docs {
			if d.Error != nil {
				failures = append(failures, DocWriteFailure{ID: r.ID, Error: d.Error})
				continue
			}
			docs = append(docs, *d.Doc)
		}
	}
	if len(docs) == 0 {
		return 0, failures, nil
	}

	results, err := target.BulkDocs(ctx, docs, store.BulkDocsOptions{NewEdits: false})
	if err != nil {
		return 0, failures, fmt.Errorf("bulk_docs: %w", err)
	}

	written := 0
	for _, r := range results {
		if r.Ok {
			written++
			continue
		}
		var cause error
		if r.Error != nil {
			cause = r.Error
		}
		failures = append(failures, DocWriteFailure{ID: r.ID, Rev: r.Rev, Error: cause})
	}
	return written, failures, nil
}

// Sync runs Run(A, B) followed by Run(B, A). The two directions share no state
// beyond their independently checkpointed replication ids (A->B and B->A
// hash to different ids since source/target are swapped), so either can
// fail without corrupting the other's progress.
func Sync(ctx context.Context, a, b store.Adapter, opts Options) (toB, toA Result, err error) {
	toB, err = Run(ctx, a, b, opts)
	if err != nil {
		return toB, Result{}, fmt.Errorf("replicate: sync a->b: %w", err)
	}
	toA, err = Run(ctx, b, a, opts)
	if err != nil {
		return toB, toA, fmt.Errorf("replicate: sync b->a: %w", err)
	}
	return toB, toA, nil
}
