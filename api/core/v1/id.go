// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package corev1 defines the wire-level data model shared by the hsgo
// client: typed object identifiers, cached node representations, and the
// link and attribute records attached to them.
package corev1

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Collection enumerates the three REST collections an object can belong to.
// The collection name doubles as the request path segment for the object.
type Collection int

const (
	CollectionUnknown Collection = iota
	CollectionGroups
	CollectionDatasets
	CollectionDatatypes
)

// String returns the REST path segment for the collection.
func (c Collection) String() string {
	switch c {
	case CollectionGroups:
		return "groups"
	case CollectionDatasets:
		return "datasets"
	case CollectionDatatypes:
		return "datatypes"
	default:
		return "unknown"
	}
}

// ObjectID uniquely identifies one object within a domain. The one-character
// prefix (g-, d-, t-) determines the owning collection. Identifiers are
// never reused after deletion.
type ObjectID string

// NewID mints a fresh identifier for the collection. Objects staged locally
// carry client-minted ids that the server adopts at creation time.
func NewID(c Collection) ObjectID {
	var prefix string

	switch c {
	case CollectionGroups:
		prefix = "g"
	case CollectionDatasets:
		prefix = "d"
	case CollectionDatatypes:
		prefix = "t"
	default:
		prefix = "g"
	}

	return ObjectID(prefix + "-" + uuid.NewString())
}

// Collection returns the collection that owns this identifier.
func (id ObjectID) Collection() (Collection, error) {
	switch {
	case strings.HasPrefix(string(id), "g-"):
		return CollectionGroups, nil
	case strings.HasPrefix(string(id), "d-"):
		return CollectionDatasets, nil
	case strings.HasPrefix(string(id), "t-"):
		return CollectionDatatypes, nil
	default:
		return CollectionUnknown, fmt.Errorf("unexpected object id: %q: %w", string(id), ErrInvalidID)
	}
}

// IsGroup reports whether the identifier refers to a group.
func (id ObjectID) IsGroup() bool {
	return strings.HasPrefix(string(id), "g-")
}

// IsDataset reports whether the identifier refers to a dataset.
func (id ObjectID) IsDataset() bool {
	return strings.HasPrefix(string(id), "d-")
}

// ParseID validates s as a typed object identifier.
func ParseID(s string) (ObjectID, error) {
	id := ObjectID(s)
	if _, err := id.Collection(); err != nil {
		return "", err
	}

	return id, nil
}
