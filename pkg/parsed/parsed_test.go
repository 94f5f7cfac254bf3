package parsed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kadirpekel/docpipe/pkg/document"
)

func sampleDoc() *Document {
	return &Document{
		Name:   "report",
		Engine: "native",
		Pages: map[int]Page{
			1: {Number: 1, Width: 612, Height: 792},
			2: {Number: 2, Width: 612, Height: 792},
		},
		Items: []Item{
			{Ref: "#/items/0", Kind: ItemSectionHeader, Text: "Findings", Level: 1, Page: 1,
				BBox: &document.BBox{Left: 50, Top: 700, Right: 400, Bottom: 680}},
			{Ref: "#/items/1", Kind: ItemText, Label: "text", Text: "Outcomes improved in most districts.", Page: 1,
				BBox: &document.BBox{Left: 50, Top: 650, Right: 500, Bottom: 600}},
			{Ref: "#/items/2", Kind: ItemListItem, Text: "Attendance rose", Marker: "-", Page: 1,
				BBox: &document.BBox{Left: 60, Top: 580, Right: 500, Bottom: 560}},
			{Ref: "#/items/3", Kind: ItemTable, Page: 2,
				Cells: [][]string{{"District", "Score"}, {"North", "82"}}},
			{Ref: "#/items/4", Kind: ItemPicture, Page: 2,
				BBox: &document.BBox{Left: 100, Top: 400, Right: 300, Bottom: 200}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := sampleDoc()
	path := DocumentFile(dir, doc.Name)

	if err := doc.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(got.Items) != len(doc.Items) {
		t.Fatalf("Load() items = %d, want %d", len(got.Items), len(doc.Items))
	}
	if got.Items[3].Cells[1][1] != "82" {
		t.Errorf("table cell = %q, want %q", got.Items[3].Cells[1][1], "82")
	}
	if got.PageHeight(1) != 792 {
		t.Errorf("PageHeight(1) = %v, want 792", got.PageHeight(1))
	}
}

func TestPageHeightFallback(t *testing.T) {
	doc := &Document{Pages: map[int]Page{}}
	if got := doc.PageHeight(7); got != 792 {
		t.Errorf("PageHeight fallback = %v, want 792", got)
	}
}

func TestTextMaps(t *testing.T) {
	doc := sampleDoc()

	raw := doc.TextMap()
	if raw["#/items/2"] != "Attendance rose" {
		t.Errorf("TextMap list item = %q, want raw text", raw["#/items/2"])
	}
	if _, ok := raw["#/items/3"]; ok {
		t.Error("TextMap should not contain table items")
	}

	fixed := doc.FixedTextMap()
	if fixed["#/items/2"] != "- Attendance rose" {
		t.Errorf("FixedTextMap list item = %q, want marker prefix", fixed["#/items/2"])
	}
	if fixed["#/items/1"] != raw["#/items/1"] {
		t.Error("FixedTextMap should leave plain text unchanged")
	}
}

func TestWordCount(t *testing.T) {
	doc := sampleDoc()
	// "Findings" + "Outcomes improved in most districts." + "Attendance rose"
	if got := doc.WordCount(); got != 8 {
		t.Errorf("WordCount() = %d, want 8", got)
	}
}

func TestPageCount(t *testing.T) {
	doc := sampleDoc()
	if got := doc.PageCount(); got != 2 {
		t.Errorf("PageCount() = %d, want 2", got)
	}
	doc.Items = append(doc.Items, Item{Ref: "#/items/5", Kind: ItemText, Text: "annex", Page: 9})
	if got := doc.PageCount(); got != 9 {
		t.Errorf("PageCount() after annex item = %d, want 9", got)
	}
}

func TestTOCFromHeadings(t *testing.T) {
	doc := &Document{
		Items: []Item{
			{Ref: "a", Kind: ItemSectionHeader, Text: "Introduction", Level: 1, Page: 1},
			{Ref: "b", Kind: ItemSectionHeader, Text: "Methodology", Level: 2, Page: 3},
			{Ref: "c", Kind: ItemText, Text: "body", Page: 3},
		},
	}
	toc := doc.TOC()
	lines := strings.Split(strings.TrimRight(toc, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("TOC lines = %d, want 2:\n%s", len(lines), toc)
	}
	if !strings.HasPrefix(lines[1], "  Methodology") {
		t.Errorf("nested heading not indented: %q", lines[1])
	}
	if !strings.HasSuffix(lines[0], "1") {
		t.Errorf("page number missing: %q", lines[0])
	}
}

func TestMarkdownRendering(t *testing.T) {
	md := sampleDoc().Markdown()
	for _, want := range []string{
		"# Findings",
		"- Attendance rose",
		"| District | Score |",
		"| --- | --- |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown() missing %q:\n%s", want, md)
		}
	}
}

func TestSortItems(t *testing.T) {
	doc := &Document{
		Items: []Item{
			{Ref: "late", Kind: ItemText, Text: "late", Page: 2, BBox: &document.BBox{Top: 700}},
			{Ref: "low", Kind: ItemText, Text: "low", Page: 1, BBox: &document.BBox{Top: 100}},
			{Ref: "high", Kind: ItemText, Text: "high", Page: 1, BBox: &document.BBox{Top: 700}},
		},
	}
	doc.SortItems()
	got := []string{doc.Items[0].Ref, doc.Items[1].Ref, doc.Items[2].Ref}
	want := []string{"high", "low", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortItems order = %v, want %v", got, want)
		}
	}
}

func TestArtifactsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	art := &Artifacts{
		Doc: sampleDoc(),
		Images: ImagesByPage{
			2: {{Path: "images/p2_0.png", Page: 2,
				BBox:         document.BBox{Left: 100, Top: 400, Right: 300, Bottom: 200},
				PositionHint: 0.49}},
		},
		TableImages: []TableImageMeta{{TableIndex: 0, Page: 2, Path: "tables/t0.png"}},
	}
	if err := art.Save(dir, "report"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	for _, name := range []string{
		"report.json",
		"report.md",
		TOCFile,
		filepath.Join(ImagesDir, ImagesMetaFile),
		filepath.Join(TablesDir, TableImagesMetaFile),
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("artifact %s not written: %v", name, err)
		}
	}

	got, err := LoadArtifacts(dir, "report")
	if err != nil {
		t.Fatalf("LoadArtifacts() error: %v", err)
	}
	imgs, ok := got.Images[2]
	if !ok || len(imgs) != 1 {
		t.Fatalf("Images[2] = %v, want one entry", got.Images)
	}
	if imgs[0].PositionHint != 0.49 {
		t.Errorf("PositionHint = %v, want 0.49", imgs[0].PositionHint)
	}
	if len(got.TableImages) != 1 || got.TableImages[0].Path != "tables/t0.png" {
		t.Errorf("TableImages = %v", got.TableImages)
	}
	if !strings.Contains(got.TOC, "Findings") {
		t.Errorf("TOC = %q, want derived heading", got.TOC)
	}
}

func TestLoadArtifactsWithoutSidecars(t *testing.T) {
	dir := t.TempDir()
	doc := sampleDoc()
	if err := doc.Save(DocumentFile(dir, "bare")); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := LoadArtifacts(dir, "bare")
	if err != nil {
		t.Fatalf("LoadArtifacts() error: %v", err)
	}
	if len(got.Images) != 0 || len(got.TableImages) != 0 {
		t.Errorf("sidecars should default to empty, got %v / %v", got.Images, got.TableImages)
	}
}
