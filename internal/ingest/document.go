package ingest

import (
	"context"
	"fmt"
	"strings"
)

// Conversion stages reported by the document-based strategies.
const (
	stageConvert = "convert"
	stageChunk   = "chunk"
)

// DocumentStrategy converts an uploaded Markdown or plain-text document
// into semantic chunks. Stages: convert, chunk, then one tick per emitted
// chunk; the executor appends its own insertion ticks.
type DocumentStrategy struct{}

func NewDocumentStrategy() *DocumentStrategy {
	return &DocumentStrategy{}
}

func (s *DocumentStrategy) Name() string { return "document" }

func (s *DocumentStrategy) ValidateParams(params Params) error {
	return validateChunkParams(params)
}

func validateChunkParams(params Params) error {
	for _, key := range []string{"chunk_target", "chunk_max", "chunk_overlap"} {
		if _, present := params[key]; !present {
			continue
		}
		if params.Int(key, -1) < 0 {
			return &ValidationError{
				Field:   key,
				Message: "must be a non-negative integer",
			}
		}
	}
	return nil
}

func (s *DocumentStrategy) Run(ctx context.Context, src Source, params Params, rep *Reporter, emit EmitFunc) error {
	rep.Report(0, 0, "converting document")

	doc, err := ParseMarkdown(string(src.Content))
	if err != nil {
		return NewStrategyError(stageConvert, fmt.Sprintf("parse document: %v", err))
	}
	if strings.TrimSpace(doc.Content) == "" {
		return NewStrategyError(stageConvert, "document has no content")
	}
	rep.Report(1, 2, "converted "+describeDoc(doc))

	pieces := ChunkDocument(doc, ChunkConfigFromParams(params))
	total := 2 + len(pieces)
	rep.Report(2, total, fmt.Sprintf("chunked into %d pieces", len(pieces)))

	for i, piece := range pieces {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(Chunk{
			Content:  piece.Content,
			Metadata: documentChunkMeta(doc, piece),
		}); err != nil {
			return err
		}
		rep.Report(2+i+1, total, fmt.Sprintf("produced chunk %d/%d", i+1, len(pieces)))
	}

	return nil
}

func describeDoc(doc *MarkdownDoc) string {
	if doc.Title != "" {
		return fmt.Sprintf("%q (%d sections)", doc.Title, len(doc.Sections))
	}
	return fmt.Sprintf("document (%d sections)", len(doc.Sections))
}

func documentChunkMeta(doc *MarkdownDoc, piece ChunkPiece) map[string]any {
	meta := make(map[string]any)
	if doc.Title != "" {
		meta["title"] = doc.Title
	}
	if piece.HeadingPath != "" {
		meta["section"] = piece.HeadingPath
	}
	if tags := doc.GetFrontmatterStringSlice("tags"); len(tags) > 0 {
		meta["tags"] = tags
	}
	return meta
}
