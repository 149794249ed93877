// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chunking splits source files into embedding-sized chunks.
//
// Two strategies are provided: a language-aware recursive splitter that
// picks separators from the file extension, and a plain token splitter for
// content with no useful structure. Either output can be wrapped with a
// contextual prefix (the file's summary) before embedding, which anchors an
// otherwise free-floating chunk to its file.
package chunking

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Default splitter geometry. Overlap is 10% of the chunk size.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = DefaultChunkSize / 10
)

var (
	defaultSeparators = []string{"\n\n", "\n", " ", ""}
	pythonSeparators  = []string{"\nclass ", "\ndef ", "\n\t", "\n", " "}
	cStyleSeparators  = []string{
		"\nfunction ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}

	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// Chunk is one split piece of a file, ordered by Index.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Config controls splitter geometry. Zero values fall back to the package
// defaults.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	return c
}

// SplitFile splits content using separators appropriate for the file's
// extension.
func SplitFile(path, content string, cfg Config) ([]Chunk, error) {
	splitter := splitterForFile(path, cfg.withDefaults())
	pieces, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", path, err)
	}
	return toChunks(pieces), nil
}

// SplitTokens splits content by token count, ignoring structure. Useful for
// minified or generated files where separators carry no meaning.
func SplitTokens(content string, cfg Config) ([]Chunk, error) {
	cfg = cfg.withDefaults()
	splitter := textsplitter.NewTokenSplitter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
	)
	pieces, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("failed to token-split content: %w", err)
	}
	return toChunks(pieces), nil
}

// WithContext prefixes every chunk with the file path and summary so the
// embedded text carries its own provenance. Chunks keep their indexes.
func WithContext(path, summary string, chunks []Chunk) []Chunk {
	if summary == "" {
		return chunks
	}
	out := make([]Chunk, len(chunks))
	for i, ch := range chunks {
		out[i] = Chunk{
			Index: ch.Index,
			Text:  fmt.Sprintf("File: %s\nSummary: %s\n\n%s", path, summary, ch.Text),
		}
	}
	return out
}

// splitterForFile selects separators by extension, mirroring how the files
// were written rather than how they tokenize.
func splitterForFile(filename string, cfg Config) textsplitter.TextSplitter {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		)
	case ".py":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators(pythonSeparators),
		)
	case ".go", ".js", ".ts", ".jsx", ".tsx", ".java", ".c", ".cc", ".cpp", ".h", ".hpp", ".cs", ".rs", ".php":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators(cStyleSeparators),
		)
	default:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		)
	}
}

func toChunks(pieces []string) []Chunk {
	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: piece})
	}
	return chunks
}
