// Package corpus loads the static reference corpora: article titles, their
// precomputed title embeddings and the article texts they point to.
package corpus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrModelMismatch means the query embedder differs from the model that built the index.
var ErrModelMismatch = errors.New("embedding model mismatch")

// Record is one indexed title. Index is the 0-based position in the titles file.
type Record struct {
	Index  int
	Title  string
	Vector []float32
}

// Source describes where a corpus lives on disk.
type Source struct {
	Name           string
	TitlesPath     string
	ArticlesDir    string
	EmbeddingsPath string
	JournalFilter  string
}

// Corpus is immutable after Load and safe for concurrent use.
type Corpus struct {
	Name          string
	JournalFilter string
	ModelID       string
	Records       []Record

	dir  string
	docs fs.FS
}

// EmbeddingsFile is the on-disk format written by the indexer.
type EmbeddingsFile struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func Load(src Source) (*Corpus, error) {
	titles, err := readTitles(src.TitlesPath)
	if err != nil {
		return nil, fmt.Errorf("load corpus %s titles: %w", src.Name, err)
	}
	ef, err := ReadEmbeddings(src.EmbeddingsPath)
	if err != nil {
		return nil, fmt.Errorf("load corpus %s embeddings: %w", src.Name, err)
	}
	c, err := New(src.Name, src.JournalFilter, ef.Model, titles, ef.Embeddings, os.DirFS(src.ArticlesDir))
	if err != nil {
		return nil, err
	}
	c.dir = src.ArticlesDir
	return c, nil
}

// New builds a corpus from parallel title and vector lists.
func New(name, journalFilter, modelID string, titles []string, vectors [][]float32, docs fs.FS) (*Corpus, error) {
	if len(titles) != len(vectors) {
		return nil, fmt.Errorf("corpus %s: %d titles but %d embeddings", name, len(titles), len(vectors))
	}
	records := make([]Record, len(titles))
	dim := -1
	for i := range titles {
		if dim == -1 {
			dim = len(vectors[i])
		}
		if len(vectors[i]) == 0 || len(vectors[i]) != dim {
			return nil, fmt.Errorf("corpus %s: embedding %d has dimension %d, want %d", name, i, len(vectors[i]), dim)
		}
		records[i] = Record{Index: i, Title: titles[i], Vector: vectors[i]}
	}
	return &Corpus{
		Name:          name,
		JournalFilter: journalFilter,
		ModelID:       modelID,
		Records:       records,
		docs:          docs,
	}, nil
}

// CheckModel enforces that query and index embeddings come from the same model.
func (c *Corpus) CheckModel(modelID string) error {
	if c.ModelID != "" && modelID != "" && c.ModelID != modelID {
		return fmt.Errorf("%w: corpus %s indexed with %q, query embedder is %q", ErrModelMismatch, c.Name, c.ModelID, modelID)
	}
	return nil
}

// FileName is the document file name for a record index.
func FileName(index int) string {
	return fmt.Sprintf("article%d.txt", index+1)
}

// Path is the OS path of a document, used for uploads.
func (c *Corpus) Path(index int) string {
	return filepath.Join(c.dir, FileName(index))
}

// Text reads the full text of a document.
func (c *Corpus) Text(index int) (string, error) {
	if c.docs == nil {
		return "", fmt.Errorf("corpus %s has no document store", c.Name)
	}
	data, err := fs.ReadFile(c.docs, FileName(index))
	if err != nil {
		return "", fmt.Errorf("read corpus %s document %d: %w", c.Name, index, err)
	}
	return string(data), nil
}

func readTitles(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var titles []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		titles = append(titles, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	// A trailing blank line is not a title.
	for len(titles) > 0 && titles[len(titles)-1] == "" {
		titles = titles[:len(titles)-1]
	}
	return titles, nil
}

func ReadEmbeddings(path string) (*EmbeddingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ef EmbeddingsFile
	if err := json.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("decode embeddings file: %w", err)
	}
	return &ef, nil
}

func WriteEmbeddings(path, modelID string, vectors [][]float32) error {
	data, err := json.Marshal(EmbeddingsFile{Model: modelID, Embeddings: vectors})
	if err != nil {
		return fmt.Errorf("encode embeddings file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadTitles exposes the titles loader to the indexer.
func ReadTitles(path string) ([]string, error) {
	return readTitles(path)
}
