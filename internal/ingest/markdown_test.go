package ingest

import (
	"testing"
)

func TestParseMarkdown_Frontmatter(t *testing.T) {
	content := `---
title: Release Notes
tags:
  - docs
  - release
---

# Release Notes

## Changes

Fixed a thing.
`

	doc, err := ParseMarkdown(content)
	if err != nil {
		t.Fatalf("ParseMarkdown() error = %v", err)
	}

	if doc.Title != "Release Notes" {
		t.Errorf("Title = %q, want 'Release Notes'", doc.Title)
	}
	tags := doc.GetFrontmatterStringSlice("tags")
	if len(tags) != 2 || tags[0] != "docs" || tags[1] != "release" {
		t.Errorf("tags = %v, want [docs release]", tags)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(doc.Sections))
	}
	if doc.Sections[1].Path != "# Release Notes > ## Changes" {
		t.Errorf("section path = %q", doc.Sections[1].Path)
	}
	if doc.Sections[1].Content != "Fixed a thing." {
		t.Errorf("section content = %q", doc.Sections[1].Content)
	}
}

func TestParseMarkdown_TitleFromFirstH1(t *testing.T) {
	doc, err := ParseMarkdown("Some intro.\n\n# The Actual Title\n\nBody.")
	if err != nil {
		t.Fatalf("ParseMarkdown() error = %v", err)
	}
	if doc.Title != "The Actual Title" {
		t.Errorf("Title = %q, want 'The Actual Title'", doc.Title)
	}
}

func TestParseMarkdown_BadFrontmatterIgnored(t *testing.T) {
	content := "---\nkey: [unclosed\n---\n\n# Doc\n\nBody."

	doc, err := ParseMarkdown(content)
	if err != nil {
		t.Fatalf("ParseMarkdown() error = %v", err)
	}
	if len(doc.Frontmatter) != 0 {
		t.Errorf("Frontmatter = %v, want empty on parse failure", doc.Frontmatter)
	}
	if doc.Title != "Doc" {
		t.Errorf("Title = %q, want 'Doc'", doc.Title)
	}
}

func TestParseMarkdown_SiblingHeadingPaths(t *testing.T) {
	content := "# Top\n\n## A\n\na content\n\n### A1\n\na1 content\n\n## B\n\nb content\n"

	doc, err := ParseMarkdown(content)
	if err != nil {
		t.Fatalf("ParseMarkdown() error = %v", err)
	}

	want := []string{
		"# Top",
		"# Top > ## A",
		"# Top > ## A > ### A1",
		"# Top > ## B",
	}
	if len(doc.Sections) != len(want) {
		t.Fatalf("got %d sections, want %d", len(doc.Sections), len(want))
	}
	for i, path := range want {
		if doc.Sections[i].Path != path {
			t.Errorf("section[%d].Path = %q, want %q", i, doc.Sections[i].Path, path)
		}
	}
}

func TestExtractImages(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []ImageRef
	}{
		{
			name:    "no images",
			content: "Just text with a [link](https://example.com).",
			want:    nil,
		},
		{
			name:    "alt and url",
			content: `See ![the diagram](https://example.com/arch.png) above.`,
			want:    []ImageRef{{Alt: "the diagram", URL: "https://example.com/arch.png"}},
		},
		{
			name:    "empty alt",
			content: `![](img/shot.png)`,
			want:    []ImageRef{{URL: "img/shot.png"}},
		},
		{
			name:    "title attribute stripped",
			content: `![logo](https://example.com/logo.svg "Our logo")`,
			want:    []ImageRef{{Alt: "logo", URL: "https://example.com/logo.svg"}},
		},
		{
			name:    "duplicates collapse by url",
			content: "![a](x.png) text ![b](x.png) more ![c](y.png)",
			want:    []ImageRef{{Alt: "a", URL: "x.png"}, {Alt: "c", URL: "y.png"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractImages(tt.content)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractImages() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("image[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
