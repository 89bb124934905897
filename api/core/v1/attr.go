// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package corev1

import (
	"encoding/json"
	"time"
)

// Attribute is a named, typed value attached to an object. Type, Shape and
// Value are opaque to the cache and passed through to the server unchanged.
// Deleted marks a local tombstone (same semantics as Link.Deleted).
type Attribute struct {
	Type    json.RawMessage
	Shape   json.RawMessage
	Value   json.RawMessage
	Created time.Time

	Deleted bool
}

type attrWire struct {
	Type    json.RawMessage `json:"type,omitempty"`
	Shape   json.RawMessage `json:"shape,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Created float64         `json:"created,omitempty"`
}

func (a *Attribute) MarshalJSON() ([]byte, error) {
	w := attrWire{
		Type:    a.Type,
		Shape:   a.Shape,
		Value:   a.Value,
		Created: timeToUnix(a.Created),
	}

	return json.Marshal(w) //nolint:wrapcheck
}

func (a *Attribute) UnmarshalJSON(data []byte) error {
	var w attrWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err //nolint:wrapcheck
	}

	a.Type = w.Type
	a.Shape = w.Shape
	a.Value = w.Value
	a.Created = unixToTime(w.Created)
	a.Deleted = false

	return nil
}
