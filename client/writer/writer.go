// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package writer implements the differential write-back pass: it walks a
// working set of locally created, modified, resized, and deleted objects and
// replays the differences to the server in a fixed phase order, so that
// structure exists before the data and metadata that reference it.
package writer

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	corev1 "github.com/HDFGroup/hsgo/api/core/v1"
	"github.com/HDFGroup/hsgo/client/transport"
	"github.com/HDFGroup/hsgo/utils/logging"
)

var log = logging.Logger("client/writer")

const (
	// maxObjectsPerRequest bounds one batched creation request.
	maxObjectsPerRequest = 300

	// maxInlineValueSize is the largest dataset, by defined size in bytes,
	// whose value is folded into its creation payload instead of a separate
	// value write.
	maxInlineValueSize = 4096

	// attrNameSeparator joins attribute names in batched deletes. Attribute
	// names may contain slashes, so the slash default is not safe here.
	attrNameSeparator = "|"
)

// Source is the local object state the writer synchronizes from. The node
// cache satisfies it.
type Source interface {
	Node(id corev1.ObjectID) (*corev1.Node, bool)
	ValueUpdates(id corev1.ObjectID) []corev1.ValueUpdate
	ClearValueUpdates(id corev1.ObjectID)
}

// WorkingSet names the objects one synchronization pass must consider.
// Order within New is preserved so parents are created before children.
type WorkingSet struct {
	New     []corev1.ObjectID
	Dirty   []corev1.ObjectID
	Deleted []corev1.ObjectID
	Resized []corev1.ObjectID
}

// Empty reports whether there is nothing to synchronize.
func (s *WorkingSet) Empty() bool {
	return len(s.New) == 0 && len(s.Dirty) == 0 && len(s.Deleted) == 0 && len(s.Resized) == 0
}

// Writer replays local differences against the server. A Writer is bound to
// one connection and root group and keeps the timestamp of its last
// successful pass, which classifies link and attribute records as already
// persisted or still pending. The timestamp starts at construction time:
// records fetched from the server predate it, records stamped locally come
// after it.
type Writer struct {
	conn *transport.Conn
	src  Source
	root corev1.ObjectID

	lastFlush time.Time
	now       func() time.Time
}

// New returns a writer over the given source.
func New(conn *transport.Conn, src Source, root corev1.ObjectID) *Writer {
	w := &Writer{
		conn: conn,
		src:  src,
		root: root,
		now:  time.Now,
	}
	w.lastFlush = w.now()

	return w
}

// Flush runs one full synchronization pass:
//
//  1. create new objects, batched per collection
//  2. apply shape changes
//  3. reconcile links and attributes (batched puts, tombstone deletes)
//  4. write dataset values
//  5. delete objects
//
// Apart from value inlining during creation, every phase is idempotent, so
// a failed pass can be retried wholesale.
func (w *Writer) Flush(ctx context.Context, set *WorkingSet) error {
	if set.Empty() {
		return nil
	}

	start := w.now()

	log.Debugw("synchronization pass starting",
		"new", len(set.New), "dirty", len(set.Dirty),
		"deleted", len(set.Deleted), "resized", len(set.Resized))

	if err := w.createObjects(ctx, set); err != nil {
		return err
	}

	if err := w.resizeDatasets(ctx, set); err != nil {
		return err
	}

	if err := w.reconcileMetadata(ctx, set); err != nil {
		return err
	}

	if err := w.writeValues(ctx, set); err != nil {
		return err
	}

	if err := w.deleteObjects(ctx, set); err != nil {
		return err
	}

	w.lastFlush = start

	return nil
}

// createObjects posts new objects in creation order, split per collection
// and capped at maxObjectsPerRequest per request.
func (w *Writer) createObjects(ctx context.Context, set *WorkingSet) error {
	deleted := idSet(set.Deleted)

	grouped := map[corev1.Collection][]corev1.ObjectID{}

	for _, id := range set.New {
		if _, gone := deleted[id]; gone {
			continue
		}

		// The root group exists from domain creation and cannot be re-posted
		if id == w.root {
			continue
		}

		col, err := id.Collection()
		if err != nil {
			return err
		}

		grouped[col] = append(grouped[col], id)
	}

	for _, col := range []corev1.Collection{corev1.CollectionGroups, corev1.CollectionDatatypes, corev1.CollectionDatasets} {
		ids := grouped[col]

		for len(ids) > 0 {
			batch := ids
			if len(batch) > maxObjectsPerRequest {
				batch = batch[:maxObjectsPerRequest]
			}

			ids = ids[len(batch):]

			if err := w.postBatch(ctx, col, batch); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *Writer) postBatch(ctx context.Context, col corev1.Collection, batch []corev1.ObjectID) error {
	items := make([]map[string]any, 0, len(batch))

	var inlined []corev1.ObjectID

	for _, id := range batch {
		node, ok := w.src.Node(id)
		if !ok {
			return fmt.Errorf("new object %s not in cache: %w", id, corev1.ErrNotFound)
		}

		item := map[string]any{"id": id}

		if node.Type != nil {
			item["type"] = node.Type
		}

		if node.Shape != nil {
			switch {
			case node.Shape.Class == corev1.ShapeNull:
				item["shape"] = corev1.ShapeNull
			case len(node.Shape.Dims) > 0:
				item["shape"] = node.Shape.Dims
			}

			if len(node.Shape.Maxdims) > 0 {
				item["maxdims"] = node.Shape.Maxdims
			}
		}

		if node.CreationProperties != nil {
			item["creationProperties"] = node.CreationProperties
		}

		if value, ok := w.inlineValue(id, node); ok {
			item["value"] = value

			inlined = append(inlined, id)
		}

		items = append(items, item)
	}

	req := "/" + col.String()

	rsp, err := w.conn.Post(ctx, req, items, nil, nil)
	if err != nil {
		return err
	}

	if !rsp.OK() {
		return corev1.NewStatusError("POST "+req, rsp.StatusCode)
	}

	// inlined values are only consumed once the batch landed
	for _, id := range inlined {
		w.src.ClearValueUpdates(id)
	}

	log.Debugw("created objects", "collection", col, "count", len(items))

	return nil
}

// inlineValue returns the JSON value to fold into a dataset creation item:
// only when the dataset has exactly one pending update, it covers the full
// extent, and the dataset itself is small. The gate is the dataset's defined
// size, not the encoded payload, so a compact encoding cannot smuggle a
// large extent into the creation request.
func (w *Writer) inlineValue(id corev1.ObjectID, node *corev1.Node) (any, bool) {
	if !id.IsDataset() {
		return nil, false
	}

	updates := w.src.ValueUpdates(id)
	if len(updates) != 1 {
		return nil, false
	}

	u := updates[0]
	if !u.FullExtent() || u.Value == nil {
		return nil, false
	}

	if node.SizeEstimate() > maxInlineValueSize {
		return nil, false
	}

	return u.Value, true
}

// resizeDatasets applies shape changes one dataset at a time; there is no
// batched shape endpoint.
func (w *Writer) resizeDatasets(ctx context.Context, set *WorkingSet) error {
	deleted := idSet(set.Deleted)

	for _, id := range set.Resized {
		if _, gone := deleted[id]; gone {
			continue
		}

		node, ok := w.src.Node(id)
		if !ok || node.Shape == nil {
			continue
		}

		req := "/datasets/" + string(id) + "/shape"

		rsp, err := w.conn.Put(ctx, req, map[string]any{"shape": node.Shape.Dims}, nil, nil)
		if err != nil {
			return err
		}

		if !rsp.OK() {
			return corev1.NewStatusError("PUT "+req, rsp.StatusCode)
		}

		log.Debugw("resized dataset", "id", id, "dims", node.Shape.Dims)
	}

	return nil
}

// reconcileMetadata brings server-side links and attributes in line with the
// local state: tombstoned records are deleted per object, and records newer
// than the previous pass (or belonging to freshly created objects) go out in
// two batched requests against the root group.
func (w *Writer) reconcileMetadata(ctx context.Context, set *WorkingSet) error {
	isNew := idSet(set.New)
	deleted := idSet(set.Deleted)

	grpIDs := map[corev1.ObjectID]map[string]any{}
	objIDs := map[corev1.ObjectID]map[string]any{}

	for _, id := range targets(set) {
		if _, gone := deleted[id]; gone {
			continue
		}

		node, ok := w.src.Node(id)
		if !ok {
			continue
		}

		_, fresh := isNew[id]

		if err := w.deleteTombstonedLinks(ctx, id, node, fresh); err != nil {
			return err
		}

		if err := w.deleteTombstonedAttrs(ctx, id, node, fresh); err != nil {
			return err
		}

		links := map[string]*corev1.Link{}

		for title, link := range node.Links {
			if link.Deleted {
				continue
			}

			if fresh || link.Created.After(w.lastFlush) {
				links[title] = link
			}
		}

		if len(links) > 0 {
			grpIDs[id] = map[string]any{"links": links}
		}

		attrs := map[string]*corev1.Attribute{}

		for name, attr := range node.Attributes {
			if attr.Deleted {
				continue
			}

			if fresh || attr.Created.After(w.lastFlush) {
				attrs[name] = attr
			}
		}

		if len(attrs) > 0 {
			objIDs[id] = map[string]any{"attributes": attrs}
		}
	}

	if len(objIDs) > 0 {
		req := "/groups/" + string(w.root) + "/attributes"

		rsp, err := w.conn.Put(ctx, req, map[string]any{"obj_ids": objIDs}, nil, nil)
		if err != nil {
			return err
		}

		if !rsp.OK() {
			return corev1.NewStatusError("PUT "+req, rsp.StatusCode)
		}
	}

	if len(grpIDs) > 0 {
		req := "/groups/" + string(w.root) + "/links"

		rsp, err := w.conn.Put(ctx, req, map[string]any{"grp_ids": grpIDs}, nil, nil)
		if err != nil {
			return err
		}

		if !rsp.OK() {
			return corev1.NewStatusError("PUT "+req, rsp.StatusCode)
		}
	}

	return nil
}

// deleteTombstonedLinks removes links marked deleted locally. Tombstones on
// records the server never saw are dropped without a request.
func (w *Writer) deleteTombstonedLinks(ctx context.Context, id corev1.ObjectID, node *corev1.Node, fresh bool) error {
	var titles, persisted []string

	for title, link := range node.Links {
		if !link.Deleted {
			continue
		}

		titles = append(titles, title)

		if !fresh && !link.Created.After(w.lastFlush) {
			persisted = append(persisted, title)
		}
	}

	if len(titles) == 0 {
		return nil
	}

	if len(persisted) > 0 {
		sort.Strings(persisted)

		params := url.Values{}
		params.Set("titles", strings.Join(persisted, "/"))

		req := "/groups/" + string(id) + "/links"

		rsp, err := w.conn.Delete(ctx, req, params, nil)
		if err != nil {
			return err
		}

		if !rsp.OK() && !rsp.NotFound() {
			return corev1.NewStatusError("DELETE "+req, rsp.StatusCode)
		}
	}

	for _, title := range titles {
		delete(node.Links, title)
	}

	return nil
}

// deleteTombstonedAttrs removes attributes marked deleted locally. Names are
// joined with a separator that cannot occur in link paths, since attribute
// names may legally contain slashes. A name that contains the separator
// itself cannot ride in the batch and is deleted individually.
func (w *Writer) deleteTombstonedAttrs(ctx context.Context, id corev1.ObjectID, node *corev1.Node, fresh bool) error {
	var names, batched, single []string

	for name, attr := range node.Attributes {
		if !attr.Deleted {
			continue
		}

		names = append(names, name)

		if fresh || attr.Created.After(w.lastFlush) {
			continue
		}

		if strings.Contains(name, attrNameSeparator) {
			single = append(single, name)
		} else {
			batched = append(batched, name)
		}
	}

	if len(names) == 0 {
		return nil
	}

	if len(batched) > 0 || len(single) > 0 {
		col, err := id.Collection()
		if err != nil {
			return err
		}

		base := "/" + col.String() + "/" + string(id) + "/attributes"

		if len(batched) > 0 {
			sort.Strings(batched)

			params := url.Values{}
			params.Set("attr_names", strings.Join(batched, attrNameSeparator))
			params.Set("separator", attrNameSeparator)

			rsp, err := w.conn.Delete(ctx, base, params, nil)
			if err != nil {
				return err
			}

			if !rsp.OK() && !rsp.NotFound() {
				return corev1.NewStatusError("DELETE "+base, rsp.StatusCode)
			}
		}

		for _, name := range single {
			req := base + "/" + url.PathEscape(name)

			rsp, err := w.conn.Delete(ctx, req, nil, nil)
			if err != nil {
				return err
			}

			if !rsp.OK() && !rsp.NotFound() {
				return corev1.NewStatusError("DELETE "+req, rsp.StatusCode)
			}
		}
	}

	for _, name := range names {
		delete(node.Attributes, name)
	}

	return nil
}

// writeValues replays queued dataset writes in arrival order. Binary
// payloads go out as-is with their selection; JSON-only updates are wrapped
// in a value body.
func (w *Writer) writeValues(ctx context.Context, set *WorkingSet) error {
	deleted := idSet(set.Deleted)

	for _, id := range targets(set) {
		if _, gone := deleted[id]; gone {
			continue
		}

		if !id.IsDataset() {
			continue
		}

		updates := w.src.ValueUpdates(id)
		if len(updates) == 0 {
			continue
		}

		req := "/datasets/" + string(id) + "/value"

		for _, u := range updates {
			params := url.Values{}
			if !u.FullExtent() {
				params.Set("select", u.Select)
			}

			var body any
			if len(u.Data) > 0 {
				body = u.Data
			} else {
				body = map[string]any{"value": u.Value}
			}

			rsp, err := w.conn.Put(ctx, req, body, params, nil)
			if err != nil {
				return err
			}

			if !rsp.OK() {
				return corev1.NewStatusError("PUT "+req, rsp.StatusCode)
			}
		}

		w.src.ClearValueUpdates(id)

		log.Debugw("wrote dataset values", "id", id, "updates", len(updates))
	}

	return nil
}

// deleteObjects destroys objects one at a time; an already-gone object
// counts as success since identifiers are never reused.
func (w *Writer) deleteObjects(ctx context.Context, set *WorkingSet) error {
	for _, id := range set.Deleted {
		col, err := id.Collection()
		if err != nil {
			return err
		}

		req := "/" + col.String() + "/" + string(id)

		rsp, err := w.conn.Delete(ctx, req, nil, nil)
		if err != nil {
			return err
		}

		if !rsp.OK() && !rsp.NotFound() {
			return corev1.NewStatusError("DELETE "+req, rsp.StatusCode)
		}

		log.Debugw("deleted object", "id", id)
	}

	return nil
}

// targets returns the new and dirty ids in order, without duplicates.
func targets(set *WorkingSet) []corev1.ObjectID {
	seen := map[corev1.ObjectID]struct{}{}

	out := make([]corev1.ObjectID, 0, len(set.New)+len(set.Dirty))

	for _, id := range append(append([]corev1.ObjectID{}, set.New...), set.Dirty...) {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}

		out = append(out, id)
	}

	return out
}

func idSet(ids []corev1.ObjectID) map[corev1.ObjectID]struct{} {
	set := make(map[corev1.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set
}
