// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

//nolint:testifylint
package writer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	corev1 "github.com/HDFGroup/hsgo/api/core/v1"
	"github.com/HDFGroup/hsgo/client/objdb"
	"github.com/HDFGroup/hsgo/client/testutil"
	"github.com/HDFGroup/hsgo/client/transport"
)

var i32 = json.RawMessage(`{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}`)

func newTestWriter(t *testing.T, srv *testutil.Server) (*Writer, *objdb.DB) {
	t.Helper()

	conn, err := transport.New(transport.Options{
		Endpoint: srv.URL,
		Domain:   srv.Domain(),
		Mode:     transport.ModeAppend,
		Retries:  1,
		Timeout:  10 * time.Second,
	})
	assert.NoError(t, err, "failed to create connection")

	t.Cleanup(conn.Close)

	root := corev1.ObjectID(srv.Root())
	db := objdb.New(conn, root, objdb.Options{})

	return New(conn, db, root), db
}

func stageGroup(db *objdb.DB) corev1.ObjectID {
	id := corev1.NewID(corev1.CollectionGroups)
	db.Set(id, &corev1.Node{})

	return id
}

func TestCreateObjectsBatched(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, db := newTestWriter(t, srv)

	set := &WorkingSet{}
	for range maxObjectsPerRequest + 1 {
		set.New = append(set.New, stageGroup(db))
	}

	assert.NoError(t, wr.Flush(ctx, set))

	// 301 objects split into a full batch and a remainder
	assert.Equal(t, 2, srv.Count("POST", "/groups"))

	for _, id := range set.New {
		assert.NotNil(t, srv.Object(string(id)), "object %s missing on server", id)
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, db := newTestWriter(t, srv)
	root := corev1.ObjectID(srv.Root())

	rootNode, err := db.Get(ctx, root)
	assert.NoError(t, err)

	gid := stageGroup(db)
	rootNode.Links["g1"] = &corev1.Link{Class: corev1.HardLink, Target: gid, Created: time.Now()}

	child, _ := db.Node(gid)
	child.Attributes["a1"] = &corev1.Attribute{Type: i32, Value: json.RawMessage("7"), Created: time.Now()}

	set := &WorkingSet{New: []corev1.ObjectID{gid}, Dirty: []corev1.ObjectID{root}}
	assert.NoError(t, wr.Flush(ctx, set))

	assert.Contains(t, srv.Object(srv.Root()).Links, "g1")
	assert.Contains(t, srv.Object(string(gid)).Attributes, "a1")

	// A second pass over the same state has nothing left to send
	srv.ResetLog()

	second := &WorkingSet{Dirty: []corev1.ObjectID{root, gid}}
	assert.NoError(t, wr.Flush(ctx, second))
	assert.Empty(t, srv.Requests(), "second pass must be a no-op")
}

func TestSmallValueInlined(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, db := newTestWriter(t, srv)

	did := corev1.NewID(corev1.CollectionDatasets)
	db.Set(did, &corev1.Node{Type: i32, Shape: &corev1.Shape{Class: corev1.ShapeSimple, Dims: []uint64{4}}})
	assert.NoError(t, db.QueueValue(did, corev1.ValueUpdate{Value: json.RawMessage("[1, 2, 3, 4]")}))

	set := &WorkingSet{New: []corev1.ObjectID{did}, Dirty: []corev1.ObjectID{did}}
	assert.NoError(t, wr.Flush(ctx, set))

	// The value rode along with the creation request
	assert.Equal(t, 0, srv.Count("PUT", "/datasets/"))
	assert.Empty(t, db.ValueUpdates(did), "inlined update must be consumed")
}

func TestLargeValueWrittenSeparately(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, db := newTestWriter(t, srv)

	data := make([]byte, 2*maxInlineValueSize)
	for i := range data {
		data[i] = byte(i)
	}

	did := corev1.NewID(corev1.CollectionDatasets)
	db.Set(did, &corev1.Node{Type: i32, Shape: &corev1.Shape{Class: corev1.ShapeSimple, Dims: []uint64{2048}}})
	assert.NoError(t, db.QueueValue(did, corev1.ValueUpdate{Data: data, Value: json.RawMessage("[]")}))

	set := &WorkingSet{New: []corev1.ObjectID{did}, Dirty: []corev1.ObjectID{did}}
	assert.NoError(t, wr.Flush(ctx, set))

	assert.Equal(t, []string{""}, srv.ValueSelects(string(did)), "full extent write expected")
	assert.Equal(t, data, srv.Object(string(did)).Value)
	assert.Empty(t, db.ValueUpdates(did))
}

func TestCompactValueOnLargeDatasetNotInlined(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, db := newTestWriter(t, srv)

	// 4096 x i32 defines 16 KiB even though the encoded value is one byte
	did := corev1.NewID(corev1.CollectionDatasets)
	db.Set(did, &corev1.Node{Type: i32, Shape: &corev1.Shape{Class: corev1.ShapeSimple, Dims: []uint64{4096}}})
	assert.NoError(t, db.QueueValue(did, corev1.ValueUpdate{Value: json.RawMessage("0")}))

	set := &WorkingSet{New: []corev1.ObjectID{did}, Dirty: []corev1.ObjectID{did}}
	assert.NoError(t, wr.Flush(ctx, set))

	assert.Equal(t, 1, srv.Count("PUT", "/datasets/"+string(did)+"/value"),
		"value must go out as a separate write")
	assert.Empty(t, db.ValueUpdates(did))
}

func TestRootNeverRecreated(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, _ := newTestWriter(t, srv)
	root := corev1.ObjectID(srv.Root())

	srv.ResetLog()

	set := &WorkingSet{New: []corev1.ObjectID{root}}
	assert.NoError(t, wr.Flush(ctx, set))
	assert.Empty(t, srv.Requests(), "the root group exists from domain creation")
}

func TestSelectionValueWrites(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, db := newTestWriter(t, srv)

	did := testutil.MintID("d")
	srv.AddDataset(did, map[string]any{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}, []uint64{8})

	id := corev1.ObjectID(did)
	_, err := db.Get(ctx, id)
	assert.NoError(t, err)

	assert.NoError(t, db.QueueValue(id, corev1.ValueUpdate{Select: "[0:4]", Data: []byte{1, 2, 3, 4}}))
	assert.NoError(t, db.QueueValue(id, corev1.ValueUpdate{Select: "[4:8]", Data: []byte{5, 6, 7, 8}}))

	set := &WorkingSet{Dirty: []corev1.ObjectID{id}}
	assert.NoError(t, wr.Flush(ctx, set))

	// Updates replay in arrival order with their selections
	assert.Equal(t, []string{"[0:4]", "[4:8]"}, srv.ValueSelects(did))
}

func TestTombstoneReconciliation(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	gid := testutil.MintID("g")
	obj := srv.AddGroup(gid)
	srv.SetLink(gid, "stale", srv.Root())
	obj.Attributes["a/b"] = map[string]any{"type": map[string]any{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}, "value": 1}
	obj.Attributes["keep"] = map[string]any{"type": map[string]any{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}, "value": 2}

	wr, db := newTestWriter(t, srv)

	id := corev1.ObjectID(gid)
	node, err := db.Get(ctx, id)
	assert.NoError(t, err)

	node.Links["stale"].Deleted = true
	node.Attributes["a/b"].Deleted = true

	set := &WorkingSet{Dirty: []corev1.ObjectID{id}}
	assert.NoError(t, wr.Flush(ctx, set))

	// Slash-bearing attribute names survive batched deletion intact
	assert.NotContains(t, srv.Object(gid).Attributes, "a/b")
	assert.Contains(t, srv.Object(gid).Attributes, "keep")
	assert.NotContains(t, srv.Object(gid).Links, "stale")

	// Local tombstones are gone after the pass
	assert.NotContains(t, node.Links, "stale")
	assert.NotContains(t, node.Attributes, "a/b")
}

func TestNeverPersistedTombstonesDropLocally(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, db := newTestWriter(t, srv)

	gid := testutil.MintID("g")
	srv.AddGroup(gid)

	id := corev1.ObjectID(gid)
	node, err := db.Get(ctx, id)
	assert.NoError(t, err)

	// Created and tombstoned between passes: the server never saw either
	node.Links["ephemeral"] = &corev1.Link{Class: corev1.SoftLink, Path: "/x", Created: time.Now(), Deleted: true}
	node.Attributes["ephemeral"] = &corev1.Attribute{Type: i32, Value: json.RawMessage("1"), Created: time.Now(), Deleted: true}

	srv.ResetLog()

	set := &WorkingSet{Dirty: []corev1.ObjectID{id}}
	assert.NoError(t, wr.Flush(ctx, set))

	assert.Empty(t, srv.Requests(), "unpersisted tombstones must not reach the server")
	assert.NotContains(t, node.Links, "ephemeral")
	assert.NotContains(t, node.Attributes, "ephemeral")
}

func TestSeparatorBearingAttrDeletedIndividually(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, db := newTestWriter(t, srv)

	gid := testutil.MintID("g")
	obj := srv.AddGroup(gid)
	obj.Attributes["a|b"] = map[string]any{"type": map[string]any{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}, "value": 1}
	obj.Attributes["plain"] = map[string]any{"type": map[string]any{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}, "value": 2}

	id := corev1.ObjectID(gid)
	node, err := db.Get(ctx, id)
	assert.NoError(t, err)

	node.Attributes["a|b"].Deleted = true
	node.Attributes["plain"].Deleted = true

	set := &WorkingSet{Dirty: []corev1.ObjectID{id}}
	assert.NoError(t, wr.Flush(ctx, set))

	// The name that collides with the batch separator went out on its own
	assert.Equal(t, 1, srv.Count("DELETE", "/groups/"+gid+"/attributes/"))
	assert.NotContains(t, srv.Object(gid).Attributes, "a|b")
	assert.NotContains(t, srv.Object(gid).Attributes, "plain")
}

func TestResizePhase(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, db := newTestWriter(t, srv)

	did := testutil.MintID("d")
	srv.AddDataset(did, map[string]any{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}, []uint64{4})

	id := corev1.ObjectID(did)
	node, err := db.Get(ctx, id)
	assert.NoError(t, err)

	node.Shape.Dims = []uint64{16}

	set := &WorkingSet{Resized: []corev1.ObjectID{id}}
	assert.NoError(t, wr.Flush(ctx, set))

	assert.Equal(t, 1, srv.Count("PUT", "/datasets/"+did+"/shape"))
}

func TestDeletePhase(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, _ := newTestWriter(t, srv)

	gid := testutil.MintID("g")
	srv.AddGroup(gid)

	gone := corev1.ObjectID(testutil.MintID("g"))

	// Already-missing objects do not fail the pass
	set := &WorkingSet{Deleted: []corev1.ObjectID{corev1.ObjectID(gid), gone}}
	assert.NoError(t, wr.Flush(ctx, set))
	assert.Nil(t, srv.Object(gid))
}

func TestEmptySetIsFree(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	wr, _ := newTestWriter(t, srv)

	assert.NoError(t, wr.Flush(ctx, &WorkingSet{}))
	assert.Empty(t, srv.Requests())
}
