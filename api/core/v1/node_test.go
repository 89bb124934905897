// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

//nolint:testifylint
package corev1

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeGroupNode(t *testing.T) {
	// A server response, bookkeeping keys included
	body := []byte(`{
		"id": "g-314d61b8-9954-11e8-a8bc-0242ac120016",
		"root": "g-314d61b8-9954-11e8-a8bc-0242ac120016",
		"domain": "/home/joe/data.h5",
		"created": 1533840594.5,
		"lastModified": 1533840595.1,
		"linkCount": 1,
		"attributeCount": 1,
		"hrefs": [{"rel": "self", "href": "http://localhost:5101/groups/g-314d61b8"}],
		"links": {
			"dset": {"class": "H5L_TYPE_HARD", "id": "d-d38053ea-9954-11e8-a8bc-0242ac120016"}
		},
		"attributes": {
			"title": {"type": {"class": "H5T_STRING", "length": 5}, "value": "hello"}
		}
	}`)

	node, err := DecodeNode("g-314d61b8-9954-11e8-a8bc-0242ac120016", body)
	assert.NoError(t, err, "decode failed")

	assert.Equal(t, ObjectID("g-314d61b8-9954-11e8-a8bc-0242ac120016"), node.ID)
	assert.Len(t, node.Links, 1)
	assert.Equal(t, HardLink, node.Links["dset"].Class)
	assert.Len(t, node.Attributes, 1)
	assert.Equal(t, float64(1533840594.5), node.Created)

	// Bookkeeping keys never survive a round trip
	out, err := json.Marshal(node)
	assert.NoError(t, err)
	assert.NotContains(t, string(out), "hrefs")
	assert.NotContains(t, string(out), "linkCount")
	assert.NotContains(t, string(out), "domain")
}

func TestDecodeSkipsUnrepresentableLinks(t *testing.T) {
	body := []byte(`{
		"id": "g-314d61b8-9954-11e8-a8bc-0242ac120016",
		"links": {
			"dset": {"class": "H5L_TYPE_HARD", "id": "d-d38053ea-9954-11e8-a8bc-0242ac120016"},
			"custom": {"class": "H5L_TYPE_USER_DEFINED"}
		}
	}`)

	// A link kind the client cannot represent drops out; the rest survives
	node, err := DecodeNode("g-314d61b8-9954-11e8-a8bc-0242ac120016", body)
	assert.NoError(t, err, "decode failed")

	assert.Len(t, node.Links, 1)
	assert.Equal(t, HardLink, node.Links["dset"].Class)
	assert.NotContains(t, node.Links, "custom")
}

func TestDecodeDatasetNode(t *testing.T) {
	body := []byte(`{
		"id": "d-d38053ea-9954-11e8-a8bc-0242ac120016",
		"type": {"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"},
		"shape": {"class": "H5S_SIMPLE", "dims": [4], "maxdims": [8]},
		"creationProperties": {"layout": {"class": "H5D_CONTIGUOUS"}}
	}`)

	node, err := DecodeNode("d-d38053ea-9954-11e8-a8bc-0242ac120016", body)
	assert.NoError(t, err, "decode failed")

	assert.Equal(t, ShapeSimple, node.Shape.Class)
	assert.Equal(t, []uint64{4}, node.Shape.Dims)
	assert.Equal(t, []uint64{8}, node.Shape.Maxdims)
	assert.Contains(t, string(node.CreationProperties), "H5D_CONTIGUOUS")

	// Datasets get an attributes map but never a links map
	assert.NotNil(t, node.Attributes)
	assert.Nil(t, node.Links)
}

func TestNormalize(t *testing.T) {
	group := &Node{ID: "g-1"}
	group.Normalize()
	assert.NotNil(t, group.Attributes)
	assert.NotNil(t, group.Links)

	dset := &Node{ID: "d-1"}
	dset.Normalize()
	assert.NotNil(t, dset.Attributes)
	assert.Nil(t, dset.Links)
}

func TestValueUpdateFullExtent(t *testing.T) {
	assert.True(t, ValueUpdate{Data: []byte{1}}.FullExtent())
	assert.False(t, ValueUpdate{Select: "[0:2]", Data: []byte{1, 2}}.FullExtent())
}

func TestStatusErrorClassification(t *testing.T) {
	assert.ErrorIs(t, NewStatusError("GET /groups/g-1", 404), ErrNotFound)
	assert.ErrorIs(t, NewStatusError("GET /groups/g-1", 410), ErrNotFound)
	assert.ErrorIs(t, NewStatusError("PUT /", 401), ErrUnauthorized)
	assert.ErrorIs(t, NewStatusError("PUT /", 403), ErrForbidden)
	assert.NotErrorIs(t, NewStatusError("PUT /", 500), ErrNotFound)
	assert.Contains(t, NewStatusError("PUT /", 500).Error(), "500")
}
