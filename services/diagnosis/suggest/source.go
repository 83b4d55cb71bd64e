// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suggest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

// SourceReader returns the text a range covers.
type SourceReader interface {
	ReadRange(ctx context.Context, r model.Range) (string, error)
}

// FileSourceReader reads ranges from files on disk. Relative paths resolve
// against Root.
type FileSourceReader struct {
	Root string
}

// ReadRange implements SourceReader.
//
// # Description
//
// Lines and columns are 1-indexed. The start column is inclusive, the end
// column exclusive; an end column of zero or past the end of its line takes
// the whole line. Columns count bytes.
//
// # Outputs
//
//   - string: The covered text.
//   - error: A read error, or ErrInvalidRange when the lines fall outside
//     the file.
func (f FileSourceReader) ReadRange(ctx context.Context, r model.Range) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("ctx must not be nil")
	}
	path := r.File
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", r.File, err)
	}
	return sliceRange(string(data), r)
}

func sliceRange(text string, r model.Range) (string, error) {
	lines := strings.Split(text, "\n")
	if r.Start.Line < 1 || r.End.Line < r.Start.Line || r.End.Line > len(lines) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}

	out := make([]string, 0, r.End.Line-r.Start.Line+1)
	for n := r.Start.Line; n <= r.End.Line; n++ {
		line := lines[n-1]
		from, to := 0, len(line)
		if n == r.Start.Line && r.Start.Column > 1 {
			from = min(r.Start.Column-1, len(line))
		}
		if n == r.End.Line && r.End.Column > 0 && r.End.Column-1 < len(line) {
			to = max(r.End.Column-1, from)
		}
		out = append(out, line[from:to])
	}
	return strings.Join(out, "\n"), nil
}

// goSeparators split Go source at declaration and block boundaries first.
var goSeparators = []string{"\nfunc ", "\n\n", "\n", " "}

// clip bounds text to roughly limit bytes, cutting at the first Go
// declaration or blank-line boundary that fits. A non-positive limit keeps
// the text whole.
func clip(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(limit),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators(goSeparators),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return text[:limit] + "\n// ..."
	}
	return chunks[0] + "\n// ..."
}
