// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package objdb implements the domain-level object cache: an in-memory map
// from identifier to node representation with expiry and negative caching,
// link-path resolution with cycle protection, and a pending-write buffer for
// deferred link and attribute mutations.
package objdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	corev1 "github.com/HDFGroup/hsgo/api/core/v1"
	"github.com/HDFGroup/hsgo/client/transport"
	"github.com/HDFGroup/hsgo/utils/logging"
)

var log = logging.Logger("client/objdb")

// Options tunes the cache.
type Options struct {
	// ExpireTime is how long a fetched node stays fresh. Zero means cached
	// nodes never expire.
	ExpireTime time.Duration

	// MaxObjects caps the number of cached nodes. Once reached, further
	// inserts are silently skipped (admission cap, not an eviction policy).
	// Zero means no cap.
	MaxObjects int

	// MaxAge, when positive, enables deferred-write mode: link and
	// attribute mutations are buffered locally and flushed in batches.
	MaxAge time.Duration
}

// DB is the object cache for one domain session. It holds a non-owning
// reference to the session's connection; every network touch first checks
// that the connection is still alive. A DB must not be shared between
// sessions.
type DB struct {
	conn *transport.Conn
	root corev1.ObjectID
	opts Options

	nodes    map[corev1.ObjectID]*corev1.Node
	loadTime map[corev1.ObjectID]time.Time

	// missing is the negative cache: ids the server confirmed absent.
	missing map[corev1.ObjectID]struct{}

	pendingAttrs  map[corev1.ObjectID]map[string]*corev1.Attribute
	pendingLinks  map[corev1.ObjectID]map[string]*corev1.Link
	pendingValues map[corev1.ObjectID][]corev1.ValueUpdate
	pendingCount  int

	now func() time.Time
}

// New creates a cache bound to the given connection and root group.
func New(conn *transport.Conn, root corev1.ObjectID, opts Options) *DB {
	return &DB{
		conn:          conn,
		root:          root,
		opts:          opts,
		nodes:         make(map[corev1.ObjectID]*corev1.Node),
		loadTime:      make(map[corev1.ObjectID]time.Time),
		missing:       make(map[corev1.ObjectID]struct{}),
		pendingAttrs:  make(map[corev1.ObjectID]map[string]*corev1.Attribute),
		pendingLinks:  make(map[corev1.ObjectID]map[string]*corev1.Link),
		pendingValues: make(map[corev1.ObjectID][]corev1.ValueUpdate),
		now:           time.Now,
	}
}

// Root returns the root group identifier.
func (db *DB) Root() corev1.ObjectID { return db.root }

// Deferred reports whether deferred-write mode is enabled.
func (db *DB) Deferred() bool { return db.opts.MaxAge > 0 }

// Len returns the number of cached nodes.
func (db *DB) Len() int { return len(db.nodes) }

// Contains reports whether the id is currently cached.
func (db *DB) Contains(id corev1.ObjectID) bool {
	_, ok := db.nodes[id]

	return ok
}

// Node returns the cached node without touching the network. It is the
// local-only lookup the differential synchronizer reads through.
func (db *DB) Node(id corev1.ObjectID) (*corev1.Node, bool) {
	node, ok := db.nodes[id]

	return node, ok
}

// liveConn returns the connection if its owner has not torn it down.
func (db *DB) liveConn() (*transport.Conn, error) {
	if db.conn == nil || db.conn.Closed() {
		return nil, corev1.ErrConnClosed
	}

	return db.conn, nil
}

// Get returns the node for id, fetching from the server when the node is
// absent or stale. Ids confirmed missing short-circuit to ErrNotFound
// without a round trip until Set installs them again.
func (db *DB) Get(ctx context.Context, id corev1.ObjectID) (*corev1.Node, error) {
	if node, ok := db.nodes[id]; ok && !db.expired(id) {
		return node, nil
	}

	if _, ok := db.missing[id]; ok {
		return nil, fmt.Errorf("object %s: %w", id, corev1.ErrNotFound)
	}

	return db.fetch(ctx, id)
}

func (db *DB) expired(id corev1.ObjectID) bool {
	if db.opts.ExpireTime == 0 {
		return false
	}

	return db.now().Sub(db.loadTime[id]) > db.opts.ExpireTime
}

// fetch retrieves the node from the server and installs it.
func (db *DB) fetch(ctx context.Context, id corev1.ObjectID) (*corev1.Node, error) {
	col, err := id.Collection()
	if err != nil {
		return nil, err
	}

	conn, err := db.liveConn()
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("include_attrs", "1")

	if col == corev1.CollectionGroups {
		params.Set("include_links", "1")
	}

	req := "/" + col.String() + "/" + string(id)

	rsp, err := conn.Get(ctx, req, params, nil)
	if err != nil {
		return nil, err
	}

	if rsp.NotFound() {
		log.Warnw("object not found", "id", id)
		db.missing[id] = struct{}{}

		return nil, fmt.Errorf("object %s: %w", id, corev1.ErrNotFound)
	}

	if !rsp.OK() {
		return nil, corev1.NewStatusError("GET "+req, rsp.StatusCode)
	}

	node, err := corev1.DecodeNode(id, rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to decode object %s: %w", id, err)
	}

	return db.Set(id, node), nil
}

// Set installs a node under id and refreshes its load time. When the object
// cap is reached and the id is not already cached, the insert is skipped
// silently; callers get the node back either way.
func (db *DB) Set(id corev1.ObjectID, node *corev1.Node) *corev1.Node {
	node.ID = id
	node.Normalize()

	delete(db.missing, id)

	if _, cached := db.nodes[id]; !cached && db.opts.MaxObjects > 0 && len(db.nodes) >= db.opts.MaxObjects {
		log.Debugw("object cache full, not caching", "id", id, "max", db.opts.MaxObjects)

		return node
	}

	db.nodes[id] = node
	db.loadTime[id] = db.now()

	return node
}

// Free drops local state for id. The server is not touched.
func (db *DB) Free(id corev1.ObjectID) {
	delete(db.nodes, id)
	delete(db.loadTime, id)
	delete(db.pendingAttrs, id)
	delete(db.pendingLinks, id)
	delete(db.pendingValues, id)
}

// BulkLoad installs a batch of server-provided nodes in one pass, skipping
// ids already cached. It is used when the server returns a consolidated
// snapshot alongside a domain-open response.
func (db *DB) BulkLoad(nodes map[corev1.ObjectID]json.RawMessage) error {
	for id, data := range nodes {
		if db.Contains(id) {
			continue
		}

		node, err := corev1.DecodeNode(id, data)
		if err != nil {
			return fmt.Errorf("unable to decode object %s: %w", id, err)
		}

		db.Set(id, node)
	}

	log.Debugw("bulk load complete", "objects", len(nodes), "cached", len(db.nodes))

	return nil
}

// ObjectSpec describes a new object for MakeObject. A nil Type creates a
// group, Type plus Shape a dataset, Type alone a committed datatype.
type ObjectSpec struct {
	Type               json.RawMessage
	Shape              *corev1.Shape
	CreationProperties json.RawMessage
	TrackOrder         bool
}

// MakeObject creates a new object on the server, caches it, and (when a
// parent and title are given) links it into the parent group. Object
// creation is never deferred.
func (db *DB) MakeObject(ctx context.Context, parent corev1.ObjectID, title string, spec ObjectSpec) (corev1.ObjectID, error) {
	if parent != "" && title != "" {
		if strings.Contains(title, "/") {
			return "", fmt.Errorf("link title can not be nested: %w", corev1.ErrInvalidPath)
		}

		if _, err := db.Get(ctx, parent); err != nil {
			return "", err
		}
	}

	body := map[string]any{}

	var req string

	switch {
	case spec.Type != nil && spec.Shape != nil:
		req = "/datasets"
		body["type"] = spec.Type
		body["shape"] = spec.Shape.Dims

		if len(spec.Shape.Maxdims) > 0 {
			body["maxdims"] = spec.Shape.Maxdims
		}
	case spec.Type != nil:
		req = "/datatypes"
		body["type"] = spec.Type
	default:
		if spec.Shape != nil {
			return "", fmt.Errorf("shape set, but no type")
		}

		req = "/groups"
	}

	cpl, err := creationProperties(spec)
	if err != nil {
		return "", err
	}

	if cpl != nil {
		body["creationProperties"] = cpl
	}

	conn, err := db.liveConn()
	if err != nil {
		return "", err
	}

	rsp, err := conn.Post(ctx, req, body, nil, nil)
	if err != nil {
		return "", err
	}

	if !rsp.OK() {
		return "", corev1.NewStatusError("POST "+req, rsp.StatusCode)
	}

	var created struct {
		ID corev1.ObjectID `json:"id"`
	}

	if err := rsp.JSON(&created); err != nil {
		return "", err
	}

	node := &corev1.Node{
		ID:                 created.ID,
		Type:               spec.Type,
		Shape:              spec.Shape,
		CreationProperties: cpl,
	}
	db.Set(created.ID, node)

	if parent != "" && title != "" {
		if err := db.SetLink(ctx, parent, title, corev1.NewHardLink(created.ID)); err != nil {
			return created.ID, err
		}
	}

	log.Debugw("created object", "id", created.ID, "parent", parent, "title", title)

	return created.ID, nil
}

// creationProperties merges the TrackOrder flag into the opaque creation
// properties blob.
func creationProperties(spec ObjectSpec) (json.RawMessage, error) {
	if !spec.TrackOrder {
		return spec.CreationProperties, nil
	}

	props := map[string]any{}
	if spec.CreationProperties != nil {
		if err := json.Unmarshal(spec.CreationProperties, &props); err != nil {
			return nil, fmt.Errorf("unable to decode creation properties: %w", err)
		}
	}

	props["CreateOrder"] = 1

	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("unable to encode creation properties: %w", err)
	}

	return data, nil
}

// DeleteObject destroys the object on the server and drops it from the
// cache. Deletions are never deferred. A 404/410 response counts as
// success: the object is already gone and identifiers are never reused.
func (db *DB) DeleteObject(ctx context.Context, id corev1.ObjectID) error {
	col, err := id.Collection()
	if err != nil {
		return err
	}

	conn, err := db.liveConn()
	if err != nil {
		return err
	}

	req := "/" + col.String() + "/" + string(id)

	rsp, err := conn.Delete(ctx, req, nil, nil)
	if err != nil {
		return err
	}

	if !rsp.OK() && !rsp.NotFound() {
		return corev1.NewStatusError("DELETE "+req, rsp.StatusCode)
	}

	db.Free(id)

	return nil
}

// Resize updates the shape of a dataset and refreshes the cached node.
func (db *DB) Resize(ctx context.Context, id corev1.ObjectID, dims []uint64) error {
	if !id.IsDataset() {
		return fmt.Errorf("resize: %s is not a dataset: %w", id, corev1.ErrInvalidID)
	}

	conn, err := db.liveConn()
	if err != nil {
		return err
	}

	req := "/datasets/" + string(id) + "/shape"

	rsp, err := conn.Put(ctx, req, map[string]any{"shape": dims}, nil, nil)
	if err != nil {
		return err
	}

	if !rsp.OK() {
		return corev1.NewStatusError("PUT "+req, rsp.StatusCode)
	}

	// refetch so the cached shape matches the server's view
	db.Free(id)

	_, err = db.fetch(ctx, id)

	return err
}
