package replicate

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Options configures a replication run.
type Options struct {
	// DocIDs, when non-empty, restricts replication to these document ids.
	DocIDs []string
	// Selector, when non-empty, is an opaque Mango selector passed to the
	// source's Changes filter. It participates in the replication id the
	// same way CouchDB's does, so two replications with different selectors
	// never share a checkpoint.
	Selector string
	// Continuous marks a live/ongoing replication rather than a one-shot
	// sync, again only to the extent it affects the replication id.
	Continuous bool
	// BatchSize bounds how many changes Run reads from the source per
	// iteration. 0 falls back to DefaultBatchSize.
	BatchSize int
	// CheckpointInterval is how many batches Run processes between
	// persisting a checkpoint to both sides. 0 falls back to
	// DefaultCheckpointInterval.
	CheckpointInterval int
}

// DefaultBatchSize and DefaultCheckpointInterval are applied when the
// caller leaves the corresponding Options fields unset.
const (
	DefaultBatchSize          = 100
	DefaultCheckpointInterval = 10
)

// ID computes a deterministic replication id from the two endpoints'
// identities and the options that affect the doc set, the same way
// rev.NewHash hashes a canonical document edit: MD5 over a stable
// serialization, rendered as 32 lowercase hex characters so it can be
// embedded directly in a "_local/" checkpoint document id.
func ID(sourceName, targetName string, opts Options) string {
	docIDs := append([]string(nil), opts.DocIDs...)
	sort.Strings(docIDs)

	parts := []string{
		"source=" + sourceName,
		"target=" + targetName,
		"doc_ids=" + strings.Join(docIDs, ","),
		"selector=" + opts.Selector,
		fmt.Sprintf("continuous=%t", opts.Continuous),
	}
	sum := md5.Sum([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(sum[:])
}

// CheckpointDocID is the "_local/" document id a replication id's checkpoint
// is stored under on both source and target.
func CheckpointDocID(replicationID string) string {
	return "_local/" + replicationID
}
