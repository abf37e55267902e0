package couchremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	kivik "github.com/go-kivik/kivik/v4"

	"github.com/evalgo-org/rouchdb/logging"
	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/store"
)

// mapErr translates a kivik (or raw HTTP) error into the backend-agnostic
// taxonomy, using kivik.HTTPStatus(err) as the source of the status code.
func mapErr(err error, op string) *store.Error {
	status := kivik.HTTPStatus(err)
	if status == 0 {
		return store.Wrap(store.KindIO, fmt.Errorf("%s: %w", op, err))
	}
	return mapStatus(status, err.Error())
}

func mapStatus(status int, reason string) *store.Error {
	switch status {
	case http.StatusNotFound:
		return store.New(store.KindNotFound, reason)
	case http.StatusConflict:
		return store.New(store.KindConflict, reason)
	case http.StatusBadRequest:
		return store.New(store.KindBadRequest, reason)
	case http.StatusUnauthorized:
		return store.New(store.KindUnauthorized, reason)
	case http.StatusForbidden:
		return store.New(store.KindForbidden, reason)
	case http.StatusPreconditionFailed:
		return store.New(store.KindDatabaseExists, reason)
	default:
		return store.New(store.KindDatabaseError, reason)
	}
}

// doJSON issues one authenticated JSON request against this database's
// CouchDB server and decodes the response body into out. It exists for the
// two operations (_bulk_get, _revs_diff) that kivik's generic driver
// interface has no method for at all.
func (d *DB) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return store.Wrap(store.KindJSON, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+"/"+d.dbName+path, reader)
	if err != nil {
		return store.Wrap(store.KindIO, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.log.WithError(err).WithFields(logging.HTTPFields(method, path, 0, time.Since(start))).Error("couchdb request failed")
		return store.Wrap(store.KindIO, err)
	}
	defer resp.Body.Close()
	d.log.WithFields(logging.HTTPFields(method, path, resp.StatusCode, time.Since(start))).Debug("couchdb request")

	if resp.StatusCode >= 300 {
		var reason struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&reason)
		msg := reason.Reason
		if msg == "" {
			msg = reason.Error
		}
		return mapStatus(resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return store.Wrap(store.KindJSON, err)
	}
	return nil
}

// BulkGet implements _bulk_get: one POST carrying every
// requested (id, rev) pair, returning each item's body or a structured
// per-item error without aborting the rest of the batch.
func (d *DB) BulkGet(ctx context.Context, items []store.BulkGetItem) ([]store.BulkGetResult, error) {
	type bulkGetRequestDoc struct {
		ID  string `json:"id"`
		Rev string `json:"rev,omitempty"`
	}
	type bulkGetRequest struct {
		Docs []bulkGetRequestDoc `json:"docs"`
	}

	req := bulkGetRequest{Docs: make([]bulkGetRequestDoc, len(items))}
	for i, item := range items {
		req.Docs[i] = bulkGetRequestDoc{ID: item.ID}
		if !item.Rev.IsZero() {
			req.Docs[i].Rev = item.Rev.String()
		}
	}

	type bulkGetResultEntry struct {
		OK    map[string]interface{} `json:"ok,omitempty"`
		Error *struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	}
	type bulkGetResultRow struct {
		ID   string                `json:"id"`
		Docs []bulkGetResultEntry `json:"docs"`
	}
	var resp struct {
		Results []bulkGetResultRow `json:"results"`
	}

	if err := d.doJSON(ctx, http.MethodPost, "/_bulk_get?revs=true", req, &resp); err != nil {
		return nil, err
	}

	out := make([]store.BulkGetResult, len(resp.Results))
	for i, row := range resp.Results {
		result := store.BulkGetResult{ID: row.ID}
		for _, entry := range row.Docs {
			switch {
			case entry.OK != nil:
				doc, err := docFromRaw(entry.OK)
				if err != nil {
					result.Docs = append(result.Docs, store.BulkGetDoc{Error: store.Wrap(store.KindJSON, err)})
					continue
				}
				result.Docs = append(result.Docs, store.BulkGetDoc{Doc: &doc})
			case entry.Error != nil:
				result.Docs = append(result.Docs, store.BulkGetDoc{Error: store.New(store.KindNotFound, entry.Error.Reason)})
			}
		}
		out[i] = result
	}
	return out, nil
}

// RevsDiff implements _revs_diff: for each id, which of the caller's
// claimed revisions are missing locally, plus the nearest available
// ancestors on the same branch.
func (d *DB) RevsDiff(ctx context.Context, claimed map[string][]rev.Revision) (map[string]store.RevsDiffResult, error) {
	req := make(map[string][]string, len(claimed))
	for id, revs := range claimed {
		strs := make([]string, len(revs))
		for i, r := range revs {
			strs[i] = r.String()
		}
		req[id] = strs
	}

	var resp map[string]struct {
		Missing           []string `json:"missing"`
		PossibleAncestors []string `json:"possible_ancestors"`
	}
	if err := d.doJSON(ctx, http.MethodPost, "/_revs_diff", req, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]store.RevsDiffResult, len(resp))
	for id, diff := range resp {
		var result store.RevsDiffResult
		for _, s := range diff.Missing {
			if r, err := rev.Parse(s); err == nil {
				result.Missing = append(result.Missing, r)
			}
		}
		for _, s := range diff.PossibleAncestors {
			if r, err := rev.Parse(s); err == nil {
				result.PossibleAncestors = append(result.PossibleAncestors, r)
			}
		}
		out[id] = result
	}
	return out, nil
}
