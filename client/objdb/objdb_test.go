// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

//nolint:testifylint
package objdb

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	corev1 "github.com/HDFGroup/hsgo/api/core/v1"
	"github.com/HDFGroup/hsgo/client/testutil"
	"github.com/HDFGroup/hsgo/client/transport"
)

func newTestDB(t *testing.T, srv *testutil.Server, opts Options) *DB {
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

	return New(conn, corev1.ObjectID(srv.Root()), opts)
}

func TestGetCachesNode(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	db := newTestDB(t, srv, Options{})
	root := corev1.ObjectID(srv.Root())

	node, err := db.Get(ctx, root)
	assert.NoError(t, err, "get failed")
	assert.Equal(t, root, node.ID)
	assert.NotNil(t, node.Links, "group links map must exist")

	// Second get must hit the cache
	_, err = db.Get(ctx, root)
	assert.NoError(t, err)
	assert.Equal(t, 1, srv.Count("GET", "/groups/"))
}

func TestNegativeCache(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	db := newTestDB(t, srv, Options{})
	missing := corev1.ObjectID(testutil.MintID("g"))

	_, err := db.Get(ctx, missing)
	assert.ErrorIs(t, err, corev1.ErrNotFound)

	// Confirmed-missing ids short-circuit without another request
	_, err = db.Get(ctx, missing)
	assert.ErrorIs(t, err, corev1.ErrNotFound)
	assert.Equal(t, 1, srv.Count("GET", "/groups/"))

	// Installing the node clears the negative entry
	db.Set(missing, &corev1.Node{})

	_, err = db.Get(ctx, missing)
	assert.NoError(t, err)
}

func TestExpireTime(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	db := newTestDB(t, srv, Options{ExpireTime: time.Second})
	root := corev1.ObjectID(srv.Root())

	base := time.Now()
	db.now = func() time.Time { return base }

	_, err := db.Get(ctx, root)
	assert.NoError(t, err)

	_, err = db.Get(ctx, root)
	assert.NoError(t, err)
	assert.Equal(t, 1, srv.Count("GET", "/groups/"), "fresh node must not refetch")

	db.now = func() time.Time { return base.Add(2 * time.Second) }

	_, err = db.Get(ctx, root)
	assert.NoError(t, err)
	assert.Equal(t, 2, srv.Count("GET", "/groups/"), "stale node must refetch")
}

func TestMaxObjectsCap(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	extra := testutil.MintID("g")
	srv.AddGroup(extra)

	db := newTestDB(t, srv, Options{MaxObjects: 1})
	root := corev1.ObjectID(srv.Root())

	_, err := db.Get(ctx, root)
	assert.NoError(t, err)
	assert.Equal(t, 1, db.Len())

	// The cap skips the insert but the caller still gets the node
	node, err := db.Get(ctx, corev1.ObjectID(extra))
	assert.NoError(t, err)
	assert.NotNil(t, node)
	assert.False(t, db.Contains(corev1.ObjectID(extra)))
	assert.Equal(t, 1, db.Len())
}

func TestFree(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	db := newTestDB(t, srv, Options{})
	root := corev1.ObjectID(srv.Root())

	_, err := db.Get(ctx, root)
	assert.NoError(t, err)

	db.Free(root)
	assert.False(t, db.Contains(root))

	_, err = db.Get(ctx, root)
	assert.NoError(t, err)
	assert.Equal(t, 2, srv.Count("GET", "/groups/"))
}

func TestBulkLoad(t *testing.T) {
	srv := testutil.New()
	defer srv.Close()

	db := newTestDB(t, srv, Options{})

	id := corev1.ObjectID(testutil.MintID("d"))
	raw := map[corev1.ObjectID]json.RawMessage{
		id: json.RawMessage(`{
			"type": {"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"},
			"shape": {"class": "H5S_SIMPLE", "dims": [10]},
			"attributes": {},
			"root": "ignored",
			"hrefs": []
		}`),
	}

	err := db.BulkLoad(raw)
	assert.NoError(t, err, "bulk load failed")

	node, ok := db.Node(id)
	assert.True(t, ok)
	assert.Equal(t, []uint64{10}, node.Shape.Dims)
	assert.NotNil(t, node.Attributes)
}

func TestMakeObject(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	db := newTestDB(t, srv, Options{})
	root := corev1.ObjectID(srv.Root())

	// Group linked under the root
	gid, err := db.MakeObject(ctx, root, "grp", ObjectSpec{})
	assert.NoError(t, err, "group creation failed")
	assert.True(t, gid.IsGroup())
	assert.NotNil(t, srv.Object(string(gid)))
	assert.Contains(t, srv.Object(srv.Root()).Links, "grp")

	// Dataset with type and shape
	typ := json.RawMessage(`{"class": "H5T_FLOAT", "base": "H5T_IEEE_F64LE"}`)
	did, err := db.MakeObject(ctx, root, "dset", ObjectSpec{
		Type:  typ,
		Shape: &corev1.Shape{Class: corev1.ShapeSimple, Dims: []uint64{4}},
	})
	assert.NoError(t, err, "dataset creation failed")
	assert.True(t, did.IsDataset())

	// Shape without type is rejected
	_, err = db.MakeObject(ctx, "", "", ObjectSpec{
		Shape: &corev1.Shape{Class: corev1.ShapeSimple, Dims: []uint64{4}},
	})
	assert.Error(t, err)

	// Nested titles are rejected
	_, err = db.MakeObject(ctx, root, "a/b", ObjectSpec{})
	assert.ErrorIs(t, err, corev1.ErrInvalidPath)
}

func TestResize(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	db := newTestDB(t, srv, Options{})

	did := testutil.MintID("d")
	srv.AddDataset(did, map[string]any{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}, []uint64{4})

	err := db.Resize(ctx, corev1.ObjectID(did), []uint64{8})
	assert.NoError(t, err, "resize failed")

	node, ok := db.Node(corev1.ObjectID(did))
	assert.True(t, ok, "resized node must be re-cached")
	assert.Equal(t, []uint64{8}, node.Shape.Dims)

	// Only datasets can be resized
	err = db.Resize(ctx, corev1.ObjectID(srv.Root()), []uint64{8})
	assert.ErrorIs(t, err, corev1.ErrInvalidID)
}

func TestDeleteObject(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	db := newTestDB(t, srv, Options{})

	gid := testutil.MintID("g")
	srv.AddGroup(gid)

	err := db.DeleteObject(ctx, corev1.ObjectID(gid))
	assert.NoError(t, err, "delete failed")
	assert.Nil(t, srv.Object(gid))

	// An already-gone object is not an error
	err = db.DeleteObject(ctx, corev1.ObjectID(gid))
	assert.NoError(t, err)
}

func TestClosedConnection(t *testing.T) {
	ctx := t.Context()

	srv := testutil.New()
	defer srv.Close()

	conn, err := transport.New(transport.Options{Endpoint: srv.URL, Domain: srv.Domain()})
	assert.NoError(t, err)

	db := New(conn, corev1.ObjectID(srv.Root()), Options{})
	conn.Close()

	_, err = db.Get(ctx, corev1.ObjectID(srv.Root()))
	assert.ErrorIs(t, err, corev1.ErrConnClosed)
}
