package rev

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalEdit is the byte-identical input every backend hashes to produce
// a new revision, so that the same logical edit applied on two replicas
// yields the same hash and an InternalNode merge outcome rather than a
// spurious conflict.
type canonicalEdit struct {
	Parent      string            `json:"parent"`
	Deleted     bool              `json:"deleted"`
	Body        json.RawMessage   `json:"body"`
	Attachments map[string]string `json:"attachments"`
}

// NewHash computes the 32-char lowercase hex MD5 digest for a new edit.
// parent is the empty string for a new document. body is the canonical
// user-body JSON (without the CouchDB underscore fields). attachmentDigests
// maps attachment name to content digest; its keys are sorted before hashing
// so two backends agree regardless of map iteration order.
func NewHash(parent Revision, deleted bool, body json.RawMessage, attachmentDigests map[string]string) (string, error) {
	parentStr := ""
	if !parent.IsZero() {
		parentStr = parent.String()
	}
	if body == nil {
		body = json.RawMessage("null")
	}

	sortedAttachments := attachmentDigests
	if len(attachmentDigests) > 0 {
		keys := make([]string, 0, len(attachmentDigests))
		for k := range attachmentDigests {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sortedAttachments = make(map[string]string, len(keys))
		for _, k := range keys {
			sortedAttachments[k] = attachmentDigests[k]
		}
	}

	canonical, err := json.Marshal(canonicalEdit{
		Parent:      parentStr,
		Deleted:     deleted,
		Body:        body,
		Attachments: sortedAttachments,
	})
	if err != nil {
		return "", err
	}

	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NextPosition returns the position a new edit of parent should carry: 1 for
// a brand new document, parent.Pos+1 otherwise.
func NextPosition(parent Revision) uint64 {
	if parent.IsZero() {
		return 1
	}
	return parent.Pos + 1
}
