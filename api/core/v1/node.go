// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package corev1

import (
	"encoding/json"
	"errors"
)

// Shape carries the dataspace of a dataset: its class plus current and
// maximum dimensions for simple shapes.
type Shape struct {
	Class   string   `json:"class,omitempty"`
	Dims    []uint64 `json:"dims,omitempty"`
	Maxdims []uint64 `json:"maxdims,omitempty"`
}

// Shape classes used on the wire.
const (
	ShapeSimple = "H5S_SIMPLE"
	ShapeScalar = "H5S_SCALAR"
	ShapeNull   = "H5S_NULL"
)

// NumElements returns the number of elements described by the shape, or 0
// for a null dataspace.
func (s *Shape) NumElements() uint64 {
	if s == nil || s.Class == ShapeNull {
		return 0
	}

	count := uint64(1)
	for _, d := range s.Dims {
		count *= d
	}

	return count
}

// Node is the cached representation of one remote object. Server-side
// bookkeeping (root id, hyperlink references, attribute and link counts,
// owning domain and bucket) is stripped on ingestion and never stored.
type Node struct {
	ID ObjectID `json:"-"`

	// Attributes is always present, possibly empty.
	Attributes map[string]*Attribute `json:"attributes,omitempty"`

	// Links is present only for group nodes.
	Links map[string]*Link `json:"links,omitempty"`

	// Type and CreationProperties are opaque to the cache.
	Type               json.RawMessage `json:"type,omitempty"`
	Shape              *Shape          `json:"shape,omitempty"`
	CreationProperties json.RawMessage `json:"creationProperties,omitempty"`

	Created      float64 `json:"created,omitempty"`
	LastModified float64 `json:"lastModified,omitempty"`
}

// DecodeNode parses a server object response for the given identifier.
// Unknown wire keys (hrefs, counts, domain, bucket, root) are dropped by
// construction; Normalize fills in the maps the cache relies on. Link
// records of a kind the client cannot represent, such as user-defined
// links, are skipped rather than failing the whole object.
func DecodeNode(id ObjectID, data []byte) (*Node, error) {
	var wire struct {
		Attributes         map[string]*Attribute      `json:"attributes"`
		Links              map[string]json.RawMessage `json:"links"`
		Type               json.RawMessage            `json:"type"`
		Shape              *Shape                     `json:"shape"`
		CreationProperties json.RawMessage            `json:"creationProperties"`
		Created            float64                    `json:"created"`
		LastModified       float64                    `json:"lastModified"`
	}

	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err //nolint:wrapcheck
	}

	node := &Node{
		ID:                 id,
		Attributes:         wire.Attributes,
		Type:               wire.Type,
		Shape:              wire.Shape,
		CreationProperties: wire.CreationProperties,
		Created:            wire.Created,
		LastModified:       wire.LastModified,
	}

	if wire.Links != nil {
		node.Links = make(map[string]*Link, len(wire.Links))

		for title, raw := range wire.Links {
			link := &Link{}

			err := json.Unmarshal(raw, link)
			if errors.Is(err, ErrNotSupported) {
				continue
			}

			if err != nil {
				return nil, err //nolint:wrapcheck
			}

			node.Links[title] = link
		}
	}

	node.Normalize()

	return node, nil
}

// Normalize guarantees the attributes map exists and, for groups, the links
// map as well.
func (n *Node) Normalize() {
	if n.Attributes == nil {
		n.Attributes = make(map[string]*Attribute)
	}

	if n.ID.IsGroup() && n.Links == nil {
		n.Links = make(map[string]*Link)
	}
}

// SizeEstimate returns the number of bytes defined by the node's shape and
// element type. Variable-length element types use a fixed per-element guess.
func (n *Node) SizeEstimate() uint64 {
	if n.Shape == nil {
		return 0
	}

	return n.Shape.NumElements() * uint64(TypeItemSize(n.Type))
}

// ValueUpdate is one pending write against a dataset. An empty Select means
// the update covers the full extent. Value carries the JSON form of the
// data when available, allowing it to be inlined into a creation payload.
type ValueUpdate struct {
	Select string
	Data   []byte
	Value  json.RawMessage
}

// FullExtent reports whether the update covers the whole dataset.
func (u ValueUpdate) FullExtent() bool {
	return u.Select == ""
}
