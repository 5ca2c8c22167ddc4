// Package metastore provides the metadata-store adapter for depictio
// entities. Projects, workflow runs, files and delta-table lineage records
// are persisted as documents in a CouchDB server (via kivik), one database
// per collection, mirroring the persistent state layout: projects embed
// their workflows, DCs, joins and links; runs and files are stored flat and
// reference their owners by id.
//
// All writes are idempotent upserts: the current revision is fetched, the
// document replaced, and duplicate-create conflicts resolved by retrieve.
package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // CouchDB driver

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/config"
	"github.com/depictio/depictio/models"
)

// Database names, one per §6 collection.
const (
	DBProjects    = "projects"
	DBRuns        = "runs"
	DBFiles       = "files"
	DBDeltaTables = "deltatables"
)

// Store is the CouchDB-backed metadata store.
type Store struct {
	client *kivik.Client
	dbs    map[string]*kivik.DB
	cfg    config.MetastoreConfig
}

// New connects to the CouchDB server and opens (creating if configured) the
// entity databases.
func New(ctx context.Context, cfg config.MetastoreConfig) (*Store, error) {
	connectionURL, err := buildConnectionURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build connection URL: %w", err)
	}

	client, err := kivik.New("couch", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create document store client: %w", err)
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	s := &Store{client: client, dbs: make(map[string]*kivik.DB, 4), cfg: cfg}
	for _, name := range []string{DBProjects, DBRuns, DBFiles, DBDeltaTables} {
		dbName := cfg.Database + "_" + name
		exists, err := client.DBExists(ctx, dbName)
		if err != nil {
			return nil, fmt.Errorf("failed to check database %s: %w", dbName, err)
		}
		if !exists {
			if !cfg.CreateIfMissing {
				return nil, fmt.Errorf("database %s does not exist", dbName)
			}
			if err := client.CreateDB(ctx, dbName); err != nil {
				// Another replica may have created it concurrently.
				if kivik.HTTPStatus(err) != 412 {
					return nil, fmt.Errorf("failed to create database %s: %w", dbName, err)
				}
			}
		}
		s.dbs[name] = client.DB(dbName)
	}
	return s, nil
}

// buildConnectionURL constructs the connection URL with authentication
func buildConnectionURL(cfg config.MetastoreConfig) (string, error) {
	if cfg.URL == "" {
		return "", fmt.Errorf("metastore URL cannot be empty")
	}
	if cfg.Username == "" && cfg.Password == "" {
		return cfg.URL, nil
	}
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse metastore URL: %w", err)
	}
	parsedURL.User = url.UserPassword(cfg.Username, cfg.Password)
	return parsedURL.String(), nil
}

// Close closes the underlying client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// getDoc fetches a document into dest, mapping 404 to not-found.
func (s *Store) getDoc(ctx context.Context, db, id string, dest interface{}) error {
	row := s.dbs[db].Get(ctx, id)
	if err := row.Err(); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return common.Errorf(common.ErrNotFound, id, "document not found in %s", db)
		}
		return fmt.Errorf("failed to get document %s/%s: %w", db, id, err)
	}
	if err := row.ScanDoc(dest); err != nil {
		return fmt.Errorf("failed to scan document %s/%s: %w", db, id, err)
	}
	return nil
}

// putDoc writes a document idempotently: the current revision (if any) is
// injected so the put replaces rather than conflicts. One retry absorbs a
// racing writer; the last committed write wins, which is tolerable because
// entity reconciliation is idempotent.
func (s *Store) putDoc(ctx context.Context, db, id string, doc interface{}) error {
	payload, err := withRev(doc, "")
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		rev, err := s.currentRev(ctx, db, id)
		if err != nil {
			return err
		}
		body := payload
		if rev != "" {
			if body, err = withRev(doc, rev); err != nil {
				return err
			}
		}
		_, err = s.dbs[db].Put(ctx, id, body)
		if err == nil {
			return nil
		}
		if kivik.HTTPStatus(err) == 409 && attempt == 0 {
			continue
		}
		return fmt.Errorf("failed to put document %s/%s: %w", db, id, err)
	}
	return common.Errorf(common.ErrConflict, id, "document update conflict in %s", db)
}

// currentRev returns the revision of a document, or "" when absent.
func (s *Store) currentRev(ctx context.Context, db, id string) (string, error) {
	row := s.dbs[db].Get(ctx, id)
	if err := row.Err(); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return "", nil
		}
		return "", fmt.Errorf("failed to check document %s/%s: %w", db, id, err)
	}
	rev, err := row.Rev()
	if err != nil {
		return "", fmt.Errorf("failed to read revision of %s/%s: %w", db, id, err)
	}
	return rev, nil
}

// withRev re-encodes doc as a generic map with _rev set (or removed).
func withRev(doc interface{}, rev string) (map[string]interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	body := make(map[string]interface{})
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if rev == "" {
		delete(body, "_rev")
	} else {
		body["_rev"] = rev
	}
	return body, nil
}

// deleteDoc removes a document, treating absence as success (idempotent
// delete).
func (s *Store) deleteDoc(ctx context.Context, db, id string) error {
	rev, err := s.currentRev(ctx, db, id)
	if err != nil {
		return err
	}
	if rev == "" {
		return nil
	}
	if _, err := s.dbs[db].Delete(ctx, id, rev); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil
		}
		return fmt.Errorf("failed to delete document %s/%s: %w", db, id, err)
	}
	return nil
}

// findDocs runs a Mango selector and decodes every matching document through
// decode, which receives the raw document body.
func (s *Store) findDocs(ctx context.Context, db string, selector map[string]interface{}, decode func(json.RawMessage) error) error {
	rows := s.dbs[db].Find(ctx, map[string]interface{}{"selector": selector, "limit": 100000})
	defer rows.Close()

	for rows.Next() {
		var raw json.RawMessage
		if err := rows.ScanDoc(&raw); err != nil {
			return fmt.Errorf("failed to scan document from %s: %w", db, err)
		}
		if err := decode(raw); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating documents in %s: %w", db, err)
	}
	return nil
}

// now returns the canonical timestamp used for registration times.
func now() string {
	return models.FormatTimestamp(time.Now())
}
