package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/config"
	"foodlabel-analyzer/internal/corpus"
	"foodlabel-analyzer/internal/pkg/pdfextract"
)

const embedBatchSize = 10

func main() {
	corpusName := flag.String("corpus", "", "corpus name from config (default: all corpora)")
	pdfDir := flag.String("pdf-dir", "", "directory of article PDFs to convert into article text files")
	skipEmbed := flag.Bool("skip-embed", false, "only convert PDFs, do not rebuild title embeddings")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	targets, err := selectCorpora(cfg.Corpora, *corpusName)
	if err != nil {
		log.Fatal(err)
	}
	if *pdfDir != "" && len(targets) != 1 {
		log.Fatal("-pdf-dir needs exactly one -corpus")
	}

	ctx := context.Background()
	client := ai.NewOpenAICompatibleClient(time.Duration(cfg.LLM.TimeoutSeconds) * time.Second)
	embedder := ai.NewEmbedder(client, ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	})

	for _, cc := range targets {
		if *pdfDir != "" {
			n, err := convertPDFs(*pdfDir, cc.ArticlesDir)
			if err != nil {
				log.Fatalf("corpus %s: convert pdfs failed: %v", cc.Name, err)
			}
			log.Printf("corpus %s: wrote %d article files", cc.Name, n)
		}
		if *skipEmbed {
			continue
		}
		if err := buildEmbeddings(ctx, embedder, cc); err != nil {
			log.Fatalf("corpus %s: %v", cc.Name, err)
		}
	}
}

func selectCorpora(all []config.CorpusConfig, name string) ([]config.CorpusConfig, error) {
	if name == "" {
		return all, nil
	}
	for _, cc := range all {
		if cc.Name == name {
			return []config.CorpusConfig{cc}, nil
		}
	}
	return nil, fmt.Errorf("corpus %q is not configured", name)
}

func buildEmbeddings(ctx context.Context, embedder *ai.Embedder, cc config.CorpusConfig) error {
	titles, err := corpus.ReadTitles(cc.TitlesPath)
	if err != nil {
		return fmt.Errorf("read titles failed: %w", err)
	}

	vectors := make([][]float32, 0, len(titles))
	for start := 0; start < len(titles); start += embedBatchSize {
		end := min(start+embedBatchSize, len(titles))
		batch, err := embedder.EmbedBatch(ctx, titles[start:end])
		if err != nil {
			return fmt.Errorf("embed titles %d-%d failed: %w", start, end-1, err)
		}
		vectors = append(vectors, batch...)
		log.Printf("corpus %s: embedded %d/%d titles", cc.Name, end, len(titles))
	}

	if err := corpus.WriteEmbeddings(cc.EmbeddingsPath, embedder.ModelID(), vectors); err != nil {
		return fmt.Errorf("write embeddings failed: %w", err)
	}
	log.Printf("corpus %s: wrote %s (model %s)", cc.Name, cc.EmbeddingsPath, embedder.ModelID())
	return nil
}

// convertPDFs writes article{N}.txt for the PDFs in srcDir, numbered in name order.
// PDF order must match the titles file.
func convertPDFs(srcDir, dstDir string) (int, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return 0, err
	}
	for i, name := range names {
		text, err := pdfextract.ExtractFile(filepath.Join(srcDir, name))
		if err != nil {
			return i, err
		}
		if err := os.WriteFile(filepath.Join(dstDir, corpus.FileName(i)), []byte(text), 0o644); err != nil {
			return i, err
		}
	}
	return len(names), nil
}
