// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package objdb

import (
	"context"
	"fmt"
	"strings"

	corev1 "github.com/HDFGroup/hsgo/api/core/v1"
)

// GetByPath resolves a slash-separated link path starting from the given
// group (or the root group when from is empty) and returns the target node.
// Repeated slashes collapse and a trailing slash is ignored. Soft and
// external links can terminate a path but are not followed mid-path.
func (db *DB) GetByPath(ctx context.Context, from corev1.ObjectID, path string) (*corev1.Node, error) {
	id, _, err := db.resolve(ctx, from, path, false)
	if err != nil {
		return nil, err
	}

	return db.Get(ctx, id)
}

// GetLinkByPath resolves a path like GetByPath but returns the final link
// itself rather than its target, so callers can inspect soft and external
// links without dereferencing them.
func (db *DB) GetLinkByPath(ctx context.Context, from corev1.ObjectID, path string) (*corev1.Link, error) {
	_, link, err := db.resolve(ctx, from, path, true)
	if err != nil {
		return nil, err
	}

	if link == nil {
		return nil, fmt.Errorf("path %q names the starting group, not a link: %w", path, corev1.ErrInvalidPath)
	}

	return link, nil
}

// resolve walks the path one component at a time. Hard links move the
// cursor; the visited set bounds traversal on cyclic graphs so each group
// is fetched at most once per call.
func (db *DB) resolve(ctx context.Context, from corev1.ObjectID, path string, wantLink bool) (corev1.ObjectID, *corev1.Link, error) {
	if from == "" {
		from = db.root
	}

	if strings.HasPrefix(path, "/") {
		from = db.root
	}

	parts := splitPath(path)
	if len(parts) == 0 {
		return from, nil, nil
	}

	visited := map[corev1.ObjectID]struct{}{}

	cur := from

	var link *corev1.Link

	for i, title := range parts {
		if _, seen := visited[cur]; seen {
			return "", nil, fmt.Errorf("path %q revisits group %s: %w", path, cur, corev1.ErrCircularReference)
		}

		visited[cur] = struct{}{}

		if !cur.IsGroup() {
			return "", nil, fmt.Errorf("path %q traverses non-group object %s: %w", path, cur, corev1.ErrInvalidPath)
		}

		node, err := db.Get(ctx, cur)
		if err != nil {
			return "", nil, err
		}

		link = node.Links[title]
		if link == nil || link.Deleted {
			return "", nil, fmt.Errorf("no link %q in group %s: %w", title, cur, corev1.ErrNotFound)
		}

		last := i == len(parts)-1

		switch link.Class {
		case corev1.HardLink:
			cur = link.Target
		case corev1.SoftLink, corev1.ExternalLink:
			if last && wantLink {
				return "", link, nil
			}

			return "", nil, fmt.Errorf("link %q is not a hard link: %w", title, corev1.ErrNotSupported)
		default:
			return "", nil, fmt.Errorf("link %q has unknown class: %w", title, corev1.ErrNotSupported)
		}
	}

	return cur, link, nil
}

// splitPath breaks a link path into titles, dropping empty components.
func splitPath(path string) []string {
	var parts []string

	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return parts
}
