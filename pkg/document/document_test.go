package document

import (
	"encoding/json"
	"testing"
)

func TestNewIDStable(t *testing.T) {
	a := NewID("usaid", "agency/2023/report.pdf")
	b := NewID("usaid", "agency/2023/report.pdf")
	if a != b {
		t.Errorf("same source+path produced different ids: %q vs %q", a, b)
	}

	c := NewID("usaid", "agency/2023/other.pdf")
	if a == c {
		t.Error("different paths produced the same id")
	}

	d := NewID("worldbank", "agency/2023/report.pdf")
	if a == d {
		t.Error("different sources produced the same id")
	}

	if NewID("usaid", `agency\2023\report.pdf`) != a {
		t.Error("expected path separators to be normalized")
	}
}

func TestYearInt(t *testing.T) {
	tests := []struct {
		year string
		want int
	}{
		{"2024", 2024},
		{" 2019 ", 2019},
		{"", 0},
		{"unknown", 0},
		{"20x4", 0},
	}

	for _, tt := range tests {
		d := Document{PublishedYear: tt.year}
		if got := d.YearInt(); got != tt.want {
			t.Errorf("YearInt(%q) = %d, want %d", tt.year, got, tt.want)
		}
	}
}

func TestStem(t *testing.T) {
	d := Document{Filepath: "unicef/2021/Annual Evaluation Report.pdf"}
	if got := d.Stem(); got != "Annual Evaluation Report" {
		t.Errorf("Stem() = %q", got)
	}
}

func TestNewChunkIDStable(t *testing.T) {
	doc := NewID("usaid", "a/2020/x.pdf")
	if NewChunkID(doc, 0) != NewChunkID(doc, 0) {
		t.Error("same document+index produced different chunk ids")
	}
	if NewChunkID(doc, 0) == NewChunkID(doc, 1) {
		t.Error("different indexes produced the same chunk id")
	}
}

func TestBreadcrumb(t *testing.T) {
	tests := []struct {
		name     string
		headings []string
		want     string
	}{
		{"empty", nil, ""},
		{"single", []string{"Introduction"}, "Introduction"},
		{"three", []string{"A", "B", "C"}, "A > B > C"},
		{"truncated to last three", []string{"A", "B", "C", "D"}, "B > C > D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Breadcrumb(tt.headings, 3); got != tt.want {
				t.Errorf("Breadcrumb(%v) = %q, want %q", tt.headings, got, tt.want)
			}
		})
	}
}

func TestChunkJSONRoundTrip(t *testing.T) {
	c := Chunk{
		ID:         NewChunkID("doc-1", 3),
		DocumentID: "doc-1",
		Text:       "-- Findings --\nBudget execution improved.",
		PageNum:    4,
		Headings:   []string{"Findings"},
		ItemTypes:  []string{"text", "table"},
		BBoxes:     map[int][]BBox{4: {{Left: 10, Top: 700, Right: 500, Bottom: 650}}},
		Elements: []ChunkElement{
			{Kind: ElementText, Page: 4, PositionHint: 0.12, Text: "Budget execution improved.", Label: "text"},
			{Kind: ElementTable, Page: 4, PositionHint: 0.4, TableIndex: 1, Rows: [][]string{{"Year", "Rate"}, {"2021", "82%"}}},
		},
		NumTokens: 9,
	}

	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Chunk
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back.PageNum != c.PageNum || back.Text != c.Text || len(back.Elements) != 2 {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if back.Elements[1].Kind != ElementTable || back.Elements[1].TableIndex != 1 {
		t.Errorf("table element not preserved: %+v", back.Elements[1])
	}
	if len(back.BBoxes[4]) != 1 {
		t.Errorf("bboxes not preserved: %+v", back.BBoxes)
	}
}

func TestBBoxOverlapsY(t *testing.T) {
	text := BBox{Left: 0, Top: 500, Right: 100, Bottom: 400}

	tests := []struct {
		name      string
		img       BBox
		tolerance float64
		want      bool
	}{
		{"inside", BBox{Top: 480, Bottom: 420}, 0, true},
		{"above, touching", BBox{Top: 600, Bottom: 500}, 0, true},
		{"above, apart", BBox{Top: 800, Bottom: 700}, 0, false},
		{"above, within caption tolerance", BBox{Top: 800, Bottom: 700}, 250, true},
		{"below, apart", BBox{Top: 100, Bottom: 50}, 0, false},
		{"below, within caption tolerance", BBox{Top: 300, Bottom: 200}, 250, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := text.OverlapsY(tt.img, tt.tolerance); got != tt.want {
				t.Errorf("OverlapsY = %v, want %v", got, tt.want)
			}
		})
	}
}
