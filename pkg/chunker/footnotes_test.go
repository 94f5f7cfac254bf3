package chunker

import (
	"reflect"
	"testing"

	"github.com/kadirpekel/docpipe/pkg/document"
)

func textEl(text string) document.ChunkElement {
	return document.ChunkElement{Kind: document.ElementText, Page: 1, Text: text, Label: "text"}
}

func TestFootnoteNumber(t *testing.T) {
	tests := []struct {
		in     string
		number int
		ok     bool
	}{
		{"[^14]: United Nations estimate.", 14, true},
		{"[^7] Ministry of Health yearbook.", 7, true},
		{"  [^3]: leading whitespace", 3, true},
		{"regular sentence with [^14] inline", 0, false},
		{"[14] not standardized", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		number, ok := footnoteNumber(tt.in)
		if number != tt.number || ok != tt.ok {
			t.Errorf("footnoteNumber(%q) = (%d, %v), want (%d, %v)", tt.in, number, ok, tt.number, tt.ok)
		}
	}
}

func TestInlineReferencesAreRegistryScoped(t *testing.T) {
	chunk := &document.Chunk{Elements: []document.ChunkElement{
		textEl("[^14]: United Nations estimate."),
		textEl("[^3]: Ministry budget annex."),
	}}
	registry := buildFootnoteRegistry([]*document.Chunk{chunk})

	tests := []struct {
		name string
		text string
		want []int
	}{
		{"period space digit", "Enrollment doubled. 14 Rural districts led the rise.", []int{14}},
		{"bracketed caret", "Enrollment doubled [^3] across districts.", []int{3}},
		{"caret", "Enrollment doubled^14 across districts.", []int{14}},
		{"superscript tag", "Enrollment doubled<sup>3</sup> across districts.", []int{3}},
		{"both forms sorted", "Enrollment doubled. 14 Spending fell [^3] too.", []int{3, 14}},
		{"undefined number ignored", "In 2019. 99 villages were surveyed.", nil},
		{"plain year ignored", "The 2014 cohort graduated.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := registry.inlineReferences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("inlineReferences(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestScopeChunkFootnotes(t *testing.T) {
	chunk := &document.Chunk{Elements: []document.ChunkElement{
		textEl("Coverage improved in the northern provinces. 14 Enrollment rose."),
		textEl("[^14]: United Nations Population Division estimate."),
		textEl("[^99]: Source no longer cited anywhere in this chunk."),
	}}
	registry := buildFootnoteRegistry([]*document.Chunk{chunk})
	registry.scopeChunkFootnotes(chunk)

	if len(chunk.Elements) != 2 {
		t.Fatalf("elements = %d, want 2 (unreferenced definition dropped)", len(chunk.Elements))
	}
	if got := chunk.Elements[0].InlineReferences; !reflect.DeepEqual(got, []int{14}) {
		t.Errorf("inline references = %v, want [14]", got)
	}
	if number, ok := footnoteNumber(chunk.Elements[1].Text); !ok || number != 14 {
		t.Errorf("surviving definition = %q, want the [^14] definition", chunk.Elements[1].Text)
	}
}

func TestScopeChunkPullsMissingDefinition(t *testing.T) {
	referring := &document.Chunk{Elements: []document.ChunkElement{
		textEl("Costs per pupil fell sharply. 14 Savings funded new schools."),
	}}
	defining := &document.Chunk{Elements: []document.ChunkElement{
		textEl("Unrelated closing remarks about the programme."),
		textEl("[^14]: United Nations Population Division estimate."),
	}}
	registry := buildFootnoteRegistry([]*document.Chunk{referring, defining})

	registry.scopeChunkFootnotes(referring)
	if len(referring.Elements) != 2 {
		t.Fatalf("referring elements = %d, want definition pulled in", len(referring.Elements))
	}
	if number, _ := footnoteNumber(referring.Elements[1].Text); number != 14 {
		t.Errorf("pulled definition = %q, want [^14]", referring.Elements[1].Text)
	}

	// The chunk that held the definition has no referring text, so the
	// definition leaves it.
	registry.scopeChunkFootnotes(defining)
	if len(defining.Elements) != 1 {
		t.Fatalf("defining elements = %d, want 1", len(defining.Elements))
	}
	if _, ok := footnoteNumber(defining.Elements[0].Text); ok {
		t.Errorf("definition %q should have been dropped", defining.Elements[0].Text)
	}
}

func TestFootnoteRegistryFirstDefinitionWins(t *testing.T) {
	first := &document.Chunk{Elements: []document.ChunkElement{
		textEl("[^14]: United Nations Population Division estimate."),
	}}
	second := &document.Chunk{Elements: []document.ChunkElement{
		textEl("[^14]: A later, conflicting definition."),
	}}
	registry := buildFootnoteRegistry([]*document.Chunk{first, second})
	if got := registry.definitions[14].Text; got != first.Elements[0].Text {
		t.Errorf("registry kept %q, want the first definition", got)
	}
}
