package main

import (
	"context"
	"flag"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"os"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/store"
)

// Seeds a source's document and vector stores with synthetic data, so
// search and store integrations can be exercised without running the
// pipeline. Start qdrant first when the config selects it; the default
// chromem provider needs nothing running.
func main() {
	var (
		configPath = flag.String("config", "", "config file (built-in defaults when empty)")
		source     = flag.String("source", "usaid", "data source to seed")
		docCount   = flag.Int("docs", 25, "number of documents")
		chunkCount = flag.Int("chunks", 8, "chunks per document")
	)
	flag.Parse()

	ctx := context.Background()

	cfg := config.Default(*source)
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	srcCfg, err := cfg.Source(*source)
	if err != nil {
		fmt.Printf("Unknown source: %v\n", err)
		os.Exit(1)
	}

	pool := store.NewDBPool()
	defer pool.Close()
	st, err := store.New(ctx, *source, srcCfg, pool, cfg.Embedding.Dimension)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	fmt.Printf("📚 Seeding %d documents into %q...\n", *docCount, *source)

	agencies := []string{"unicef", "undp", "usaid", "worldbank"}
	for i := 0; i < *docCount; i++ {
		agency := agencies[i%len(agencies)]
		year := fmt.Sprintf("%d", 2015+i%10)
		rel := fmt.Sprintf("pdfs/%s/%s/evaluation_report_%03d.pdf", agency, year, i)

		doc := &document.Document{
			ID:            document.NewID(*source, rel),
			Source:        *source,
			Title:         fmt.Sprintf("Evaluation Report %03d", i),
			Filepath:      rel,
			Organization:  agency,
			PublishedYear: year,
			Status:        document.StatusIndexed,
			FileFormat:    "pdf",
		}
		if _, err := st.RegisterDocument(ctx, doc); err != nil {
			fmt.Printf("Failed to register %s: %v\n", rel, err)
			os.Exit(1)
		}

		chunks := make([]*document.Chunk, *chunkCount)
		for j := range chunks {
			chunks[j] = &document.Chunk{
				DocumentID: doc.ID,
				Text:       fmt.Sprintf("Synthetic finding %d of %s.", j+1, doc.Title),
				PageNum:    j + 1,
				NumTokens:  12,
				Embedding:  syntheticEmbedding(doc.ID, j, cfg.Embedding.Dimension),
			}
		}
		if err := st.UpsertChunks(ctx, doc, chunks, true); err != nil {
			fmt.Printf("Failed to upsert chunks for %s: %v\n", rel, err)
			os.Exit(1)
		}

		fmt.Printf("  ✓ Seeded: %s (%d chunks)\n", rel, len(chunks))
	}

	total, err := st.ChunkCount(ctx)
	if err != nil {
		fmt.Printf("Failed to count chunks: %v\n", err)
		os.Exit(1)
	}
	byAgency, err := st.FacetDocuments(ctx, "organization", document.StatusIndexed)
	if err != nil {
		fmt.Printf("Failed to facet documents: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Store seeded!")
	fmt.Printf("   - Documents: %d\n", *docCount)
	fmt.Printf("   - Chunks:    %d\n", total)
	for _, agency := range agencies {
		fmt.Printf("   - %-10s %d\n", agency+":", byAgency[agency])
	}
}

// syntheticEmbedding derives a deterministic unit vector from the chunk
// identity, so reseeding produces identical points.
func syntheticEmbedding(docID string, idx, dim int) []float32 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", docID, idx)
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	v := make([]float32, dim)
	var norm float64
	for i := range v {
		v[i] = float32(rng.NormFloat64())
		norm += float64(v[i]) * float64(v[i])
	}
	scale := 1 / math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) * scale)
	}
	return v
}
