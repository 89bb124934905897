// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package corev1

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// LinkClass enumerates the closed set of link kinds understood by the client.
type LinkClass int

const (
	LinkClassUnknown LinkClass = iota
	HardLink
	SoftLink
	ExternalLink
)

// Wire values for link classes.
const (
	wireLinkHard     = "H5L_TYPE_HARD"
	wireLinkSoft     = "H5L_TYPE_SOFT"
	wireLinkExternal = "H5L_TYPE_EXTERNAL"
)

func (c LinkClass) String() string {
	switch c {
	case HardLink:
		return wireLinkHard
	case SoftLink:
		return wireLinkSoft
	case ExternalLink:
		return wireLinkExternal
	default:
		return "unknown"
	}
}

// ParseLinkClass maps a wire string onto a LinkClass. User-defined link
// classes are rejected; callers skip records they cannot represent.
func ParseLinkClass(s string) (LinkClass, error) {
	switch s {
	case wireLinkHard:
		return HardLink, nil
	case wireLinkSoft:
		return SoftLink, nil
	case wireLinkExternal:
		return ExternalLink, nil
	default:
		return LinkClassUnknown, fmt.Errorf("unexpected link class %q: %w", s, ErrNotSupported)
	}
}

// Link is a named edge from a group to another object. Hard links carry the
// target identifier; soft links carry a path; external links carry a path
// into another domain. Deleted marks a local tombstone that has not yet been
// confirmed removed on the server and is never serialized to the wire.
type Link struct {
	Class   LinkClass
	Target  ObjectID // hard links
	Path    string   // soft and external links
	Domain  string   // external links
	Created time.Time

	Deleted bool
}

// NewHardLink returns a hard link to the given target.
func NewHardLink(target ObjectID) *Link {
	return &Link{Class: HardLink, Target: target}
}

// NewSoftLink returns a soft link to the given path.
func NewSoftLink(path string) *Link {
	return &Link{Class: SoftLink, Path: path}
}

// NewExternalLink returns an external link into another domain.
func NewExternalLink(domain, path string) *Link {
	return &Link{Class: ExternalLink, Domain: domain, Path: path}
}

type linkWire struct {
	Class    string   `json:"class"`
	ID       ObjectID `json:"id,omitempty"`
	H5Path   string   `json:"h5path,omitempty"`
	H5Domain string   `json:"h5domain,omitempty"`
	Created  float64  `json:"created,omitempty"`
}

func (l *Link) MarshalJSON() ([]byte, error) {
	w := linkWire{
		Class:   l.Class.String(),
		Created: timeToUnix(l.Created),
	}

	switch l.Class {
	case HardLink:
		w.ID = l.Target
	case SoftLink:
		w.H5Path = l.Path
	case ExternalLink:
		w.H5Path = l.Path
		w.H5Domain = l.Domain
	}

	return json.Marshal(w) //nolint:wrapcheck
}

func (l *Link) UnmarshalJSON(data []byte) error {
	var w linkWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err //nolint:wrapcheck
	}

	class, err := ParseLinkClass(w.Class)
	if err != nil {
		return err
	}

	l.Class = class
	l.Target = w.ID
	l.Path = w.H5Path
	l.Domain = w.H5Domain
	l.Created = unixToTime(w.Created)
	l.Deleted = false

	return nil
}

func timeToUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}

	return float64(t.UnixNano()) / float64(time.Second)
}

func unixToTime(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}

	sec, frac := math.Modf(f)

	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
