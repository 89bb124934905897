// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	corev1 "github.com/HDFGroup/hsgo/api/core/v1"
	"github.com/HDFGroup/hsgo/client/chunks"
	"github.com/HDFGroup/hsgo/client/objdb"
	"github.com/HDFGroup/hsgo/client/transport"
	"github.com/HDFGroup/hsgo/client/writer"
	"github.com/HDFGroup/hsgo/utils/logging"
)

var log = logging.Logger("client/session")

// Session is one open domain: a connection, the object cache on top of it,
// and the write-back engine that reconciles local changes. Sessions are not
// safe for concurrent use.
type Session struct {
	conn *transport.Conn
	db   *objdb.DB
	wr   *writer.Writer

	set       writer.WorkingSet
	inNew     map[corev1.ObjectID]struct{}
	inDirty   map[corev1.ObjectID]struct{}
	inResized map[corev1.ObjectID]struct{}

	// origins remembers where each staged object was linked in, so deleting
	// it before the first Flush can retract the link as well.
	origins map[corev1.ObjectID]origin

	now func() time.Time
}

type origin struct {
	parent corev1.ObjectID
	title  string
}

// domainInfo is the domain-open response.
type domainInfo struct {
	Root         corev1.ObjectID                     `json:"root"`
	Owner        string                              `json:"owner"`
	Created      float64                             `json:"created"`
	LastModified float64                             `json:"lastModified"`
	DomainObjs   map[corev1.ObjectID]json.RawMessage `json:"domain_objs"`
}

// Open connects to the configured endpoint and opens the domain. A missing
// domain is created when the mode allows writes; read-only opens fail with
// ErrNotFound. When the server ships a consolidated object snapshot with the
// domain response, the cache is primed from it in one pass.
func Open(ctx context.Context, cfg *Config, domain string, mode transport.Mode) (*Session, error) {
	conn, err := transport.New(cfg.TransportOptions(domain, mode))
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("getobjs", "1")

	rsp, err := conn.Get(ctx, "/", params, nil)
	if err != nil {
		conn.Close()

		return nil, err
	}

	var info domainInfo

	switch {
	case rsp.OK():
		if err := rsp.JSON(&info); err != nil {
			conn.Close()

			return nil, err
		}
	case rsp.NotFound():
		if mode == transport.ModeRead {
			conn.Close()

			return nil, fmt.Errorf("domain %s: %w", domain, corev1.ErrNotFound)
		}

		created, err := conn.Put(ctx, "/", nil, nil, nil)
		if err != nil {
			conn.Close()

			return nil, err
		}

		if !created.OK() {
			conn.Close()

			return nil, corev1.NewStatusError("PUT /", created.StatusCode)
		}

		if err := created.JSON(&info); err != nil {
			conn.Close()

			return nil, err
		}

		log.Debugw("created domain", "domain", domain, "root", info.Root)
	default:
		conn.Close()

		return nil, corev1.NewStatusError("GET /", rsp.StatusCode)
	}

	db := objdb.New(conn, info.Root, objdb.Options{
		ExpireTime: cfg.ExpireTime,
		MaxObjects: cfg.MaxObjects,
		MaxAge:     cfg.MaxAge,
	})

	if len(info.DomainObjs) > 0 {
		if err := db.BulkLoad(info.DomainObjs); err != nil {
			conn.Close()

			return nil, err
		}
	}

	return &Session{
		conn:      conn,
		db:        db,
		wr:        writer.New(conn, db, info.Root),
		inNew:     map[corev1.ObjectID]struct{}{},
		inDirty:   map[corev1.ObjectID]struct{}{},
		inResized: map[corev1.ObjectID]struct{}{},
		origins:   map[corev1.ObjectID]origin{},
		now:       time.Now,
	}, nil
}

// Root returns the root group identifier of the open domain.
func (s *Session) Root() corev1.ObjectID { return s.db.Root() }

// Domain returns the domain path.
func (s *Session) Domain() string { return s.conn.Domain() }

// Mode returns the access intent the session was opened with.
func (s *Session) Mode() transport.Mode { return s.conn.Mode() }

// DB exposes the underlying object cache.
func (s *Session) DB() *objdb.DB { return s.db }

// ServerInfo returns the cached server information.
func (s *Session) ServerInfo(ctx context.Context) (map[string]any, error) {
	return s.conn.ServerInfo(ctx)
}

// Get fetches a node through the cache.
func (s *Session) Get(ctx context.Context, id corev1.ObjectID) (*corev1.Node, error) {
	return s.db.Get(ctx, id)
}

// GetByPath resolves a link path from the root group.
func (s *Session) GetByPath(ctx context.Context, path string) (*corev1.Node, error) {
	return s.db.GetByPath(ctx, "", path)
}

func (s *Session) staged(id corev1.ObjectID) bool {
	_, ok := s.inNew[id]

	return ok
}

func (s *Session) markDirty(id corev1.ObjectID) {
	if s.staged(id) {
		return
	}

	if _, ok := s.inDirty[id]; ok {
		return
	}

	s.inDirty[id] = struct{}{}
	s.set.Dirty = append(s.set.Dirty, id)
}

// NewGroup stages a new group and links it under the parent. The object
// exists only locally until the next Flush.
func (s *Session) NewGroup(ctx context.Context, parent corev1.ObjectID, title string) (corev1.ObjectID, error) {
	return s.stageObject(ctx, corev1.CollectionGroups, parent, title, nil, nil, nil)
}

// NewDataset stages a new dataset with the given element type and shape.
func (s *Session) NewDataset(ctx context.Context, parent corev1.ObjectID, title string, typ json.RawMessage, shape *corev1.Shape) (corev1.ObjectID, error) {
	if typ == nil {
		return "", fmt.Errorf("dataset needs an element type: %w", corev1.ErrNotSupported)
	}

	return s.stageObject(ctx, corev1.CollectionDatasets, parent, title, typ, shape, nil)
}

// NewDatatype stages a new committed datatype.
func (s *Session) NewDatatype(ctx context.Context, parent corev1.ObjectID, title string, typ json.RawMessage) (corev1.ObjectID, error) {
	if typ == nil {
		return "", fmt.Errorf("committed datatype needs a type: %w", corev1.ErrNotSupported)
	}

	return s.stageObject(ctx, corev1.CollectionDatatypes, parent, title, typ, nil, nil)
}

// NewRefDataset stages a dataset whose chunks reference byte ranges in an
// existing file.
func (s *Session) NewRefDataset(ctx context.Context, parent corev1.ObjectID, title string, typ json.RawMessage, shape *corev1.Shape, layout *chunks.RefLayout) (corev1.ObjectID, error) {
	if typ == nil {
		return "", fmt.Errorf("dataset needs an element type: %w", corev1.ErrNotSupported)
	}

	cpl, err := layout.CreationProperties()
	if err != nil {
		return "", err
	}

	return s.stageObject(ctx, corev1.CollectionDatasets, parent, title, typ, shape, cpl)
}

func (s *Session) stageObject(ctx context.Context, col corev1.Collection, parent corev1.ObjectID, title string, typ json.RawMessage, shape *corev1.Shape, cpl json.RawMessage) (corev1.ObjectID, error) {
	id := corev1.NewID(col)

	node := &corev1.Node{
		ID:                 id,
		Type:               typ,
		Shape:              shape,
		CreationProperties: cpl,
	}
	s.db.Set(id, node)

	s.inNew[id] = struct{}{}
	s.set.New = append(s.set.New, id)

	if parent != "" && title != "" {
		if err := s.Link(ctx, parent, title, corev1.NewHardLink(id)); err != nil {
			return id, err
		}
	}

	log.Debugw("staged object", "id", id, "parent", parent, "title", title)

	return id, nil
}

// Link installs a link under the parent group. Links on staged groups, and
// hard links whose target is still staged, stay local until Flush so nothing
// on the server ever references an object that does not exist yet; otherwise
// the cache's write mode applies.
func (s *Session) Link(ctx context.Context, parent corev1.ObjectID, title string, link *corev1.Link) error {
	local := s.staged(parent) || (link.Class == corev1.HardLink && s.staged(link.Target))

	if !local {
		return s.db.SetLink(ctx, parent, title, link)
	}

	if !parent.IsGroup() {
		return fmt.Errorf("%s is not a group: %w", parent, corev1.ErrNotSupported)
	}

	// read-through: an existing parent may not be cached yet on a freshly
	// opened session
	node, err := s.db.Get(ctx, parent)
	if err != nil {
		return err
	}

	if link.Created.IsZero() {
		link.Created = s.now()
	}

	node.Links[title] = link

	if !s.staged(parent) {
		s.markDirty(parent)
	}

	if link.Class == corev1.HardLink && s.staged(link.Target) {
		s.origins[link.Target] = origin{parent: parent, title: title}
	}

	return nil
}

// Unlink removes a link. On staged groups it is dropped locally.
func (s *Session) Unlink(ctx context.Context, parent corev1.ObjectID, title string) error {
	if !s.staged(parent) {
		return s.db.DeleteLink(ctx, parent, title)
	}

	node, ok := s.db.Node(parent)
	if !ok {
		return fmt.Errorf("group %s: %w", parent, corev1.ErrNotFound)
	}

	if _, ok := node.Links[title]; !ok {
		return fmt.Errorf("no link %q in group %s: %w", title, parent, corev1.ErrNotFound)
	}

	delete(node.Links, title)

	return nil
}

// SetAttribute installs an attribute on an object.
func (s *Session) SetAttribute(ctx context.Context, id corev1.ObjectID, name string, attr *corev1.Attribute) error {
	if !s.staged(id) {
		return s.db.SetAttr(ctx, id, name, attr)
	}

	node, ok := s.db.Node(id)
	if !ok {
		return fmt.Errorf("object %s: %w", id, corev1.ErrNotFound)
	}

	if attr.Created.IsZero() {
		attr.Created = s.now()
	}

	node.Attributes[name] = attr

	return nil
}

// RemoveAttribute removes an attribute from an object.
func (s *Session) RemoveAttribute(ctx context.Context, id corev1.ObjectID, name string) error {
	if !s.staged(id) {
		return s.db.DeleteAttr(ctx, id, name)
	}

	node, ok := s.db.Node(id)
	if !ok {
		return fmt.Errorf("object %s: %w", id, corev1.ErrNotFound)
	}

	if _, ok := node.Attributes[name]; !ok {
		return fmt.Errorf("no attribute %q on object %s: %w", name, id, corev1.ErrNotFound)
	}

	delete(node.Attributes, name)

	return nil
}

// WriteValue queues a dataset value update for the next Flush. A small
// full-extent update on a staged dataset is folded into its creation
// request.
func (s *Session) WriteValue(id corev1.ObjectID, update corev1.ValueUpdate) error {
	if err := s.db.QueueValue(id, update); err != nil {
		return err
	}

	s.markDirty(id)

	return nil
}

// Resize grows or shrinks a dataset. Dimensions beyond the declared maximum
// are rejected; a zero maximum means unlimited. Staged and deferred resizes
// stay local until Flush.
func (s *Session) Resize(ctx context.Context, id corev1.ObjectID, dims []uint64) error {
	node, err := s.db.Get(ctx, id)
	if err != nil {
		return err
	}

	if !id.IsDataset() || node.Shape == nil {
		return fmt.Errorf("%s is not a resizable dataset: %w", id, corev1.ErrNotSupported)
	}

	if len(dims) != len(node.Shape.Dims) {
		return fmt.Errorf("resize rank mismatch for %s: %w", id, corev1.ErrNotSupported)
	}

	for i, d := range dims {
		if i < len(node.Shape.Maxdims) && node.Shape.Maxdims[i] != 0 && d > node.Shape.Maxdims[i] {
			return fmt.Errorf("dimension %d exceeds maximum %d: %w", i, node.Shape.Maxdims[i], corev1.ErrNotSupported)
		}
	}

	if s.staged(id) {
		node.Shape.Dims = dims

		return nil
	}

	if s.db.Deferred() {
		node.Shape.Dims = dims

		if _, ok := s.inResized[id]; !ok {
			s.inResized[id] = struct{}{}
			s.set.Resized = append(s.set.Resized, id)
		}

		return nil
	}

	return s.db.Resize(ctx, id, dims)
}

// Delete removes an object. A staged object that was never persisted is
// dropped locally without any request; in deferred mode the deletion waits
// for Flush, otherwise it happens immediately.
func (s *Session) Delete(ctx context.Context, id corev1.ObjectID) error {
	if id == s.db.Root() {
		return fmt.Errorf("root group can not be deleted: %w", corev1.ErrNotSupported)
	}

	if s.staged(id) {
		delete(s.inNew, id)

		for i, n := range s.set.New {
			if n == id {
				s.set.New = append(s.set.New[:i], s.set.New[i+1:]...)

				break
			}
		}

		if o, ok := s.origins[id]; ok {
			if parent, ok := s.db.Node(o.parent); ok {
				delete(parent.Links, o.title)
			}

			delete(s.origins, id)
		}

		s.db.Free(id)

		return nil
	}

	if s.db.Deferred() {
		s.set.Deleted = append(s.set.Deleted, id)
		s.db.Free(id)

		return nil
	}

	return s.db.DeleteObject(ctx, id)
}

// Pending reports whether the session holds unflushed local changes.
func (s *Session) Pending() bool {
	return s.db.PendingCount() > 0 || !s.set.Empty()
}

// Flush persists all local changes: a full synchronization pass over the
// working set first, so staged objects exist before anything references
// them, then the deferred mutation buffer.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.wr.Flush(ctx, &s.set); err != nil {
		return err
	}

	if err := s.db.Flush(ctx); err != nil {
		return err
	}

	s.set = writer.WorkingSet{}
	s.inNew = map[corev1.ObjectID]struct{}{}
	s.inDirty = map[corev1.ObjectID]struct{}{}
	s.inResized = map[corev1.ObjectID]struct{}{}
	s.origins = map[corev1.ObjectID]origin{}

	return nil
}

// DeleteDomain removes the whole domain. The session keeps its connection
// but all cached state is dropped.
func (s *Session) DeleteDomain(ctx context.Context) error {
	rsp, err := s.conn.Delete(ctx, "/", nil, nil)
	if err != nil {
		return err
	}

	if !rsp.OK() && !rsp.NotFound() {
		return corev1.NewStatusError("DELETE /", rsp.StatusCode)
	}

	s.discard()

	return nil
}

// Close shuts the connection down. Pending changes are never flushed
// implicitly: whatever the session still holds is discarded with a warning,
// so callers that want their changes persisted call Flush first.
func (s *Session) Close() error {
	if s.conn.Closed() {
		return nil
	}

	if s.Pending() {
		log.Warnw("closing session with pending changes, discarding",
			"domain", s.Domain(), "buffered", s.db.PendingCount())
		s.discard()
	}

	s.conn.Close()

	return nil
}

// discard drops every unflushed local change.
func (s *Session) discard() {
	s.db.DiscardPending()

	s.set = writer.WorkingSet{}
	s.inNew = map[corev1.ObjectID]struct{}{}
	s.inDirty = map[corev1.ObjectID]struct{}{}
	s.inResized = map[corev1.ObjectID]struct{}{}
	s.origins = map[corev1.ObjectID]origin{}
}
