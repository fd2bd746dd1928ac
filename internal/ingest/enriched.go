package ingest

import (
	"context"
	"fmt"
	"path"
	"strings"
)

const stageCaption = "caption"

// Captioner describes an image in one or two sentences. Implemented by the
// llm package against the collection's hosted model.
type Captioner interface {
	Caption(ctx context.Context, imageURL, altText string) (string, error)
}

// EnrichedStrategy is document conversion plus embedded-image enrichment:
// each image reference becomes its own chunk whose content is a generated
// description.
//
// When the owning collection has no captioning capability (or no captioner
// is wired), the strategy degrades instead of failing: images get
// filename-based labels, the fallback is noted in the progress message and
// in chunk metadata (caption_fallback), and the job completes normally.
// Submitting with require_captions=true turns the missing capability into
// a failure, for deployments that would rather hear about it.
type EnrichedStrategy struct {
	captioner Captioner
}

func NewEnrichedStrategy(captioner Captioner) *EnrichedStrategy {
	return &EnrichedStrategy{captioner: captioner}
}

func (s *EnrichedStrategy) Name() string { return "enriched" }

func (s *EnrichedStrategy) ValidateParams(params Params) error {
	return validateChunkParams(params)
}

func (s *EnrichedStrategy) Run(ctx context.Context, src Source, params Params, rep *Reporter, emit EmitFunc) error {
	captioning := s.captioner != nil && src.Collection != nil && src.Collection.Captioning
	if !captioning && params.Bool("require_captions") {
		return NewStrategyError(stageCaption, "collection has no captioning capability and require_captions is set")
	}

	rep.Report(0, 0, "converting document")
	doc, err := ParseMarkdown(string(src.Content))
	if err != nil {
		return NewStrategyError(stageConvert, fmt.Sprintf("parse document: %v", err))
	}
	if strings.TrimSpace(doc.Content) == "" {
		return NewStrategyError(stageConvert, "document has no content")
	}
	rep.Report(1, 0, "converted "+describeDoc(doc))

	images := ExtractImages(doc.Content)
	pieces := ChunkDocument(doc, ChunkConfigFromParams(params))

	// convert + extract + one per image + one per text chunk
	total := 2 + len(images) + len(pieces)
	rep.Report(2, total, fmt.Sprintf("found %d images, %d text chunks", len(images), len(pieces)))

	current := 2
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return err
		}

		caption, fallback := s.describeImage(ctx, img, captioning)
		meta := map[string]any{"image_url": img.URL}
		if img.Alt != "" {
			meta["alt"] = img.Alt
		}
		if fallback {
			meta["caption_fallback"] = true
		}
		if doc.Title != "" {
			meta["title"] = doc.Title
		}

		if err := emit(Chunk{Content: caption, Metadata: meta}); err != nil {
			return err
		}

		current++
		msg := fmt.Sprintf("captioned image %s", img.URL)
		if fallback {
			msg = fmt.Sprintf("labeled image %s (captioning unavailable, using filename)", img.URL)
		}
		rep.Report(current, total, msg)
	}

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
		current++
		rep.Report(current, total, fmt.Sprintf("produced chunk %d/%d", i+1, len(pieces)))
	}

	return nil
}

// describeImage returns the chunk content for one image and whether the
// filename label fallback was used. A captioning error on a single image
// also falls back rather than failing the whole document.
func (s *EnrichedStrategy) describeImage(ctx context.Context, img ImageRef, captioning bool) (string, bool) {
	if captioning {
		caption, err := s.captioner.Caption(ctx, img.URL, img.Alt)
		if err == nil && strings.TrimSpace(caption) != "" {
			return strings.TrimSpace(caption), false
		}
	}
	return filenameLabel(img), true
}

func filenameLabel(img ImageRef) string {
	if img.Alt != "" {
		return "Image: " + img.Alt
	}
	name := path.Base(img.URL)
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	if name == "" || name == "." || name == "/" {
		return "Image: " + img.URL
	}
	return "Image: " + name
}
