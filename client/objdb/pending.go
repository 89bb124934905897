// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package objdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	corev1 "github.com/HDFGroup/hsgo/api/core/v1"
	"github.com/HDFGroup/hsgo/client/transport"
)

// maxPendingItems bounds the deferred-write buffer. Once the total number of
// buffered link and attribute mutations reaches it, the buffer is flushed
// before the triggering call returns.
const maxPendingItems = 500

// PendingCount returns the number of buffered mutations.
func (db *DB) PendingCount() int { return db.pendingCount }

// SetLink installs a link under the given group. In deferred-write mode the
// mutation is buffered; otherwise it is persisted before returning. Either
// way the cached node reflects the link immediately.
func (db *DB) SetLink(ctx context.Context, id corev1.ObjectID, title string, link *corev1.Link) error {
	if title == "" || strings.Contains(title, "/") {
		return fmt.Errorf("invalid link title %q: %w", title, corev1.ErrInvalidPath)
	}

	if !id.IsGroup() {
		return fmt.Errorf("%s is not a group: %w", id, corev1.ErrNotSupported)
	}

	node, err := db.Get(ctx, id)
	if err != nil {
		return err
	}

	if link.Created.IsZero() {
		link.Created = db.now()
	}

	node.Links[title] = link

	if db.Deferred() {
		if db.pendingLinks[id] == nil {
			db.pendingLinks[id] = make(map[string]*corev1.Link)
		}

		if _, buffered := db.pendingLinks[id][title]; !buffered {
			db.pendingCount++
		}

		db.pendingLinks[id][title] = link

		return db.maybeFlush(ctx)
	}

	req := "/groups/" + string(id) + "/links/" + title

	rsp, err := db.put(ctx, req, link)
	if err != nil {
		return err
	}

	if !rsp.OK() {
		return corev1.NewStatusError("PUT "+req, rsp.StatusCode)
	}

	return nil
}

// DeleteLink removes a link. Deletions are never deferred: the server is
// asked to delete regardless of mode, tolerating an already-gone link, since
// an earlier version of the same title may have been flushed. A buffered
// not-yet-flushed version is dropped from the buffer as well.
func (db *DB) DeleteLink(ctx context.Context, id corev1.ObjectID, title string) error {
	node, err := db.Get(ctx, id)
	if err != nil {
		return err
	}

	link := node.Links[title]
	if link == nil || link.Deleted {
		return fmt.Errorf("no link %q in group %s: %w", title, id, corev1.ErrNotFound)
	}

	delete(node.Links, title)

	if buffered, ok := db.pendingLinks[id][title]; ok && buffered == link {
		delete(db.pendingLinks[id], title)
		db.pendingCount--

		if len(db.pendingLinks[id]) == 0 {
			delete(db.pendingLinks, id)
		}
	}

	req := "/groups/" + string(id) + "/links/" + title

	rsp, err := db.del(ctx, req, nil)
	if err != nil {
		return err
	}

	if !rsp.OK() && !rsp.NotFound() {
		return corev1.NewStatusError("DELETE "+req, rsp.StatusCode)
	}

	return nil
}

// SetAttr installs an attribute on any object, buffering in deferred-write
// mode like SetLink.
func (db *DB) SetAttr(ctx context.Context, id corev1.ObjectID, name string, attr *corev1.Attribute) error {
	if name == "" {
		return fmt.Errorf("empty attribute name: %w", corev1.ErrInvalidPath)
	}

	node, err := db.Get(ctx, id)
	if err != nil {
		return err
	}

	if attr.Created.IsZero() {
		attr.Created = db.now()
	}

	node.Attributes[name] = attr

	if db.Deferred() {
		if db.pendingAttrs[id] == nil {
			db.pendingAttrs[id] = make(map[string]*corev1.Attribute)
		}

		if _, buffered := db.pendingAttrs[id][name]; !buffered {
			db.pendingCount++
		}

		db.pendingAttrs[id][name] = attr

		return db.maybeFlush(ctx)
	}

	col, err := id.Collection()
	if err != nil {
		return err
	}

	req := "/" + col.String() + "/" + string(id) + "/attributes/" + name

	rsp, err := db.put(ctx, req, attr)
	if err != nil {
		return err
	}

	if !rsp.OK() {
		return corev1.NewStatusError("PUT "+req, rsp.StatusCode)
	}

	return nil
}

// DeleteAttr removes an attribute, mirroring DeleteLink: the server delete
// always goes out, and any buffered version is dropped from the buffer.
func (db *DB) DeleteAttr(ctx context.Context, id corev1.ObjectID, name string) error {
	node, err := db.Get(ctx, id)
	if err != nil {
		return err
	}

	attr := node.Attributes[name]
	if attr == nil || attr.Deleted {
		return fmt.Errorf("no attribute %q on object %s: %w", name, id, corev1.ErrNotFound)
	}

	delete(node.Attributes, name)

	if buffered, ok := db.pendingAttrs[id][name]; ok && buffered == attr {
		delete(db.pendingAttrs[id], name)
		db.pendingCount--

		if len(db.pendingAttrs[id]) == 0 {
			delete(db.pendingAttrs, id)
		}
	}

	col, err := id.Collection()
	if err != nil {
		return err
	}

	req := "/" + col.String() + "/" + string(id) + "/attributes/" + name

	rsp, err := db.del(ctx, req, nil)
	if err != nil {
		return err
	}

	if !rsp.OK() && !rsp.NotFound() {
		return corev1.NewStatusError("DELETE "+req, rsp.StatusCode)
	}

	return nil
}

// QueueValue records a dataset value update for the next synchronization
// pass. Updates are kept in arrival order.
func (db *DB) QueueValue(id corev1.ObjectID, update corev1.ValueUpdate) error {
	if !id.IsDataset() {
		return fmt.Errorf("%s is not a dataset: %w", id, corev1.ErrInvalidID)
	}

	db.pendingValues[id] = append(db.pendingValues[id], update)

	return nil
}

// ValueUpdates returns the queued value updates for a dataset.
func (db *DB) ValueUpdates(id corev1.ObjectID) []corev1.ValueUpdate {
	return db.pendingValues[id]
}

// ClearValueUpdates drops the queued value updates for a dataset.
func (db *DB) ClearValueUpdates(id corev1.ObjectID) {
	delete(db.pendingValues, id)
}

func (db *DB) maybeFlush(ctx context.Context) error {
	if db.pendingCount < maxPendingItems {
		return nil
	}

	log.Debugw("pending buffer full, flushing", "pending", db.pendingCount)

	return db.Flush(ctx)
}

// Flush persists the deferred-write buffer: one batched attribute request
// and one batched link request against the root group. Each batch's buffer
// is cleared only once its request succeeds, so a failed flush can be
// retried without losing mutations.
func (db *DB) Flush(ctx context.Context) error {
	if db.pendingCount == 0 {
		return nil
	}

	flushed := 0

	if len(db.pendingAttrs) > 0 {
		batched := 0
		objIDs := map[corev1.ObjectID]map[string]any{}

		for id, attrs := range db.pendingAttrs {
			if len(attrs) == 0 {
				continue
			}

			objIDs[id] = map[string]any{"attributes": attrs}
			batched += len(attrs)
		}

		if batched > 0 {
			req := "/groups/" + string(db.root) + "/attributes"

			rsp, err := db.put(ctx, req, map[string]any{"obj_ids": objIDs})
			if err != nil {
				return err
			}

			if !rsp.OK() {
				return corev1.NewStatusError("PUT "+req, rsp.StatusCode)
			}
		}

		db.pendingAttrs = make(map[corev1.ObjectID]map[string]*corev1.Attribute)
		db.pendingCount -= batched
		flushed += batched
	}

	if len(db.pendingLinks) > 0 {
		batched := 0
		grpIDs := map[corev1.ObjectID]map[string]any{}

		for id, links := range db.pendingLinks {
			if len(links) == 0 {
				continue
			}

			grpIDs[id] = map[string]any{"links": links}
			batched += len(links)
		}

		if batched > 0 {
			req := "/groups/" + string(db.root) + "/links"

			rsp, err := db.put(ctx, req, map[string]any{"grp_ids": grpIDs})
			if err != nil {
				return err
			}

			if !rsp.OK() {
				return corev1.NewStatusError("PUT "+req, rsp.StatusCode)
			}
		}

		db.pendingLinks = make(map[corev1.ObjectID]map[string]*corev1.Link)
		db.pendingCount -= batched
		flushed += batched
	}

	log.Debugw("flushed pending mutations", "items", flushed)

	return nil
}

// DiscardPending drops all buffered mutations and queued value updates
// without persisting them.
func (db *DB) DiscardPending() {
	db.pendingAttrs = make(map[corev1.ObjectID]map[string]*corev1.Attribute)
	db.pendingLinks = make(map[corev1.ObjectID]map[string]*corev1.Link)
	db.pendingValues = make(map[corev1.ObjectID][]corev1.ValueUpdate)
	db.pendingCount = 0
}

func (db *DB) put(ctx context.Context, req string, body any) (*transport.Response, error) {
	conn, err := db.liveConn()
	if err != nil {
		return nil, err
	}

	return conn.Put(ctx, req, body, url.Values{}, nil)
}

func (db *DB) del(ctx context.Context, req string, params url.Values) (*transport.Response, error) {
	conn, err := db.liveConn()
	if err != nil {
		return nil, err
	}

	return conn.Delete(ctx, req, params, nil)
}
