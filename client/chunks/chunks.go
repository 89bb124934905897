// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package chunks collects chunk location information for reference layouts:
// datasets whose creation properties point at byte ranges inside an existing
// file rather than at server-managed storage.
package chunks

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/HDFGroup/hsgo/utils/logging"
)

var log = logging.Logger("client/chunks")

// Info locates one chunk inside the source file.
type Info struct {
	Offset uint64
	Size   uint64
}

// FetchFunc resolves the location of the chunk with the given index key
// (dimension indices joined with underscores, e.g. "0_2").
type FetchFunc func(ctx context.Context, index string) (Info, error)

// Extract resolves all chunk locations concurrently with at most workers
// in-flight fetches. The first failure cancels the remaining fetches and is
// returned.
func Extract(ctx context.Context, indices []string, workers int, fetch FetchFunc) (map[string]Info, error) {
	if workers < 1 {
		workers = 1
	}

	results := make([]Info, len(indices))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, index := range indices {
		g.Go(func() error {
			info, err := fetch(ctx, index)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", index, err)
			}

			results[i] = info

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Info, len(indices))
	for i, index := range indices {
		out[index] = results[i]
	}

	log.Debugw("chunk extraction complete", "chunks", len(out), "workers", workers)

	return out, nil
}

// RefLayout describes a chunked-reference dataset layout: every chunk is a
// byte range inside the named file.
type RefLayout struct {
	File   string
	Dims   []uint64
	Chunks map[string]Info
}

// CreationProperties renders the layout as the opaque creation properties
// blob attached at dataset creation time.
func (l *RefLayout) CreationProperties() (json.RawMessage, error) {
	chunks := make(map[string][2]uint64, len(l.Chunks))
	for index, info := range l.Chunks {
		chunks[index] = [2]uint64{info.Offset, info.Size}
	}

	layout := map[string]any{
		"layout": map[string]any{
			"class":  "H5D_CHUNKED_REF",
			"file":   l.File,
			"dims":   l.Dims,
			"chunks": chunks,
		},
	}

	data, err := json.Marshal(layout)
	if err != nil {
		return nil, fmt.Errorf("unable to encode chunk layout: %w", err)
	}

	return data, nil
}
