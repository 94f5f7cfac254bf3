package selector

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/store"
)

// fakeStore serves documents in registration order.
type fakeStore struct {
	docs    []*document.Document
	failure error
}

func (f *fakeStore) Document(ctx context.Context, id string) (*document.Document, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	for _, doc := range f.docs {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

func (f *fakeStore) DocumentsByStatus(ctx context.Context, status document.Status, year string) ([]*document.Document, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	var out []*document.Document
	for _, doc := range f.docs {
		if doc.Status != status {
			continue
		}
		if year != "" && doc.PublishedYear != year {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (f *fakeStore) YearsForStatus(ctx context.Context, status document.Status) ([]string, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	seen := map[string]bool{}
	for _, doc := range f.docs {
		if doc.Status == status && doc.PublishedYear != "" {
			seen[doc.PublishedYear] = true
		}
	}
	years := make([]string, 0, len(seen))
	for year := range seen {
		years = append(years, year)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(years)))
	return years, nil
}

func downloadedDoc(id string) *document.Document {
	return &document.Document{ID: id, Filepath: id, Status: document.StatusDownloaded}
}

func ids(docs []*document.Document) []string {
	out := make([]string, len(docs))
	for i, doc := range docs {
		out[i] = doc.ID
	}
	return out
}

func assertIDs(t *testing.T, got []*document.Document, want ...string) {
	t.Helper()
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("selected %v, want %v", gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("selected %v, want %v", gotIDs, want)
		}
	}
}

func TestSelectPartitionArithmetic(t *testing.T) {
	// Eleven documents split 4 ways: slice sizes 3,3,3,2; slice 3 is d7..d9.
	fake := &fakeStore{}
	for i := 1; i <= 11; i++ {
		fake.docs = append(fake.docs, downloadedDoc(fmt.Sprintf("d%d", i)))
	}

	partition, err := ParsePartition("3/4")
	if err != nil {
		t.Fatalf("ParsePartition() error: %v", err)
	}
	docs, err := New(fake).Select(context.Background(), Options{Partition: partition})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	assertIDs(t, docs, "d7", "d8", "d9")
}

func TestPartitionConcatenationReproducesList(t *testing.T) {
	docs := make([]*document.Document, 11)
	for i := range docs {
		docs[i] = downloadedDoc(fmt.Sprintf("d%d", i+1))
	}

	for total := 1; total <= 13; total++ {
		var concat []*document.Document
		sizes := make([]int, 0, total)
		for index := 1; index <= total; index++ {
			slice := (&Partition{Index: index, Total: total}).Apply(docs)
			sizes = append(sizes, len(slice))
			concat = append(concat, slice...)
		}
		if len(concat) != len(docs) {
			t.Fatalf("N=%d: concatenated %d docs, want %d", total, len(concat), len(docs))
		}
		for i := range docs {
			if concat[i] != docs[i] {
				t.Fatalf("N=%d: concatenation does not reproduce input at %d", total, i)
			}
		}
		for _, size := range sizes {
			if size-sizes[len(sizes)-1] > 1 || sizes[0]-size > 1 {
				t.Fatalf("N=%d: slice sizes differ by more than 1: %v", total, sizes)
			}
		}
	}
}

func TestParsePartitionErrors(t *testing.T) {
	for _, spec := range []string{"", "3", "a/b", "0/4", "5/4", "1/0", "1/-2"} {
		if _, err := ParsePartition(spec); err == nil {
			t.Errorf("ParsePartition(%q) should fail", spec)
		}
	}
}

func TestSelectRecentFirstOrdersByYear(t *testing.T) {
	a := downloadedDoc("a")
	a.PublishedYear = "2020"
	b := downloadedDoc("b")
	b.PublishedYear = "2024"
	fake := &fakeStore{docs: []*document.Document{a, b}}

	docs, err := New(fake).Select(context.Background(), Options{RecentFirst: true})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	assertIDs(t, docs, "b", "a")
}

func TestSelectRecentFirstTreatsBadYearsAsOldest(t *testing.T) {
	good := downloadedDoc("good")
	good.PublishedYear = "2021"
	undated := downloadedDoc("undated")
	undated.PublishedYear = "circa 1990s"
	blank := downloadedDoc("blank")
	fake := &fakeStore{docs: []*document.Document{undated, good, blank}}

	// Natural order keeps everything in registration order.
	docs, err := New(fake).Select(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	assertIDs(t, docs, "undated", "good", "blank")

	// Recent-first fetches via the year facet, so the blank year drops out;
	// the non-integer year fetches but sorts as year 0, after real years.
	docs, err = New(fake).Select(context.Background(), Options{RecentFirst: true})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	assertIDs(t, docs, "good", "undated")
}

func TestSelectDocIDShortCircuit(t *testing.T) {
	target := downloadedDoc("target")
	fake := &fakeStore{docs: []*document.Document{downloadedDoc("other"), target}}

	docs, err := New(fake).Select(context.Background(), Options{Filters: Filters{DocID: "target"}})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	assertIDs(t, docs, "target")

	docs, err = New(fake).Select(context.Background(), Options{Filters: Filters{DocID: "ghost"}})
	if err != nil {
		t.Fatalf("Select() on missing doc_id should not error, got: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("missing doc_id should select nothing, got %v", ids(docs))
	}
}

func TestReadStatuses(t *testing.T) {
	tests := []struct {
		name string
		skip Skip
		want []document.Status
	}{
		{
			"all stages enabled",
			Skip{},
			[]document.Status{document.StatusTagged, document.StatusSummarized, document.StatusParsed, document.StatusDownloaded},
		},
		{
			"summarize skipped still feeds index from parsed",
			Skip{Summarize: true, Tag: true},
			[]document.Status{document.StatusTagged, document.StatusParsed, document.StatusDownloaded},
		},
		{
			"summarize and index skipped drops parsed",
			Skip{Summarize: true, Index: true, Tag: true},
			[]document.Status{document.StatusDownloaded},
		},
		{
			"parse only",
			Skip{Summarize: true, Tag: true, Index: true},
			[]document.Status{document.StatusDownloaded},
		},
		{
			"everything skipped",
			Skip{Parse: true, Summarize: true, Tag: true, Index: true},
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readStatuses(tt.skip)
			if len(got) != len(tt.want) {
				t.Fatalf("readStatuses() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("readStatuses() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDedupeLastWins(t *testing.T) {
	first := downloadedDoc("dup")
	second := downloadedDoc("dup")
	only := downloadedDoc("only")

	out := dedupeLastWins([]*document.Document{first, only, second})
	assertIDs(t, out, "only", "dup")
	if out[1] != second {
		t.Error("dedupe must keep the last occurrence")
	}
}

func TestDedupeCommutesWithSelection(t *testing.T) {
	// select(dedupe(xs)) == dedupe(select(xs)) for an id-duplicated input,
	// with selection being the agency filter.
	mk := func(id, org string) *document.Document {
		doc := downloadedDoc(id)
		doc.Organization = org
		return doc
	}
	xs := []*document.Document{mk("a", "unicef"), mk("b", "ilo"), mk("a", "unicef"), mk("c", "unicef")}
	filter := Filters{Agency: "unicef"}

	left := applyFilters(dedupeLastWins(xs), filter)
	right := dedupeLastWins(applyFilters(append([]*document.Document{}, xs...), filter))

	if len(left) != len(right) {
		t.Fatalf("filter/dedupe order changed result: %v vs %v", ids(left), ids(right))
	}
	for i := range left {
		if left[i].ID != right[i].ID {
			t.Fatalf("filter/dedupe order changed result: %v vs %v", ids(left), ids(right))
		}
	}
}

func TestSelectFilters(t *testing.T) {
	mk := func(id, org, year string) *document.Document {
		doc := downloadedDoc(id)
		doc.Filepath = "pdfs/" + org + "/" + year + "/" + id + ".pdf"
		doc.Organization = org
		doc.PublishedYear = year
		return doc
	}
	fake := &fakeStore{docs: []*document.Document{
		mk("health", "unicef", "2023"),
		mk("wages", "ilo", "2021"),
		mk("nutrition", "unicef", "2019"),
	}}
	sel := New(fake)
	ctx := context.Background()

	docs, err := sel.Select(ctx, Options{Filters: Filters{Agency: "unicef"}})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	assertIDs(t, docs, "health", "nutrition")

	docs, _ = sel.Select(ctx, Options{Filters: Filters{Report: "wages"}})
	assertIDs(t, docs, "wages")

	docs, _ = sel.Select(ctx, Options{Filters: Filters{Year: 2021}})
	assertIDs(t, docs, "wages")

	docs, _ = sel.Select(ctx, Options{Filters: Filters{FromYear: 2021}})
	assertIDs(t, docs, "health", "wages")

	docs, _ = sel.Select(ctx, Options{Filters: Filters{FromYear: 2019, ToYear: 2021}})
	assertIDs(t, docs, "wages", "nutrition")
}

func TestSelectLimitTruncates(t *testing.T) {
	fake := &fakeStore{}
	for i := 1; i <= 5; i++ {
		fake.docs = append(fake.docs, downloadedDoc(fmt.Sprintf("d%d", i)))
	}

	docs, err := New(fake).Select(context.Background(), Options{Limit: 3})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	assertIDs(t, docs, "d1", "d2", "d3")
}

func TestSelectStoreErrorIsFatal(t *testing.T) {
	fake := &fakeStore{failure: fmt.Errorf("connection refused")}

	if _, err := New(fake).Select(context.Background(), Options{}); err == nil {
		t.Error("store errors must propagate")
	}
}

func TestSelectPartitionOfEmptyList(t *testing.T) {
	partition, err := ParsePartition("2/4")
	if err != nil {
		t.Fatalf("ParsePartition() error: %v", err)
	}
	docs, err := New(&fakeStore{}).Select(context.Background(), Options{Partition: partition})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("partition of empty selection = %v, want empty", ids(docs))
	}
}
