// Package index loads the pre-built, versioned sequence database used by
// the homology search engine. The index is read-only at run time and is
// shared by all concurrent jobs.
package index

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/pkg/logger"
)

// FormatVersion is the index format this build of the engine understands.
// A mismatch against the on-disk manifest is a startup-time fatal error,
// never a per-job error.
const FormatVersion = "protofold-index/1"

// Index filenames inside the index directory.
const (
	ManifestFile = "VERSION"
	CorpusFile   = "sequences.fasta"
)

// Record is one reference sequence in the corpus.
type Record struct {
	ID         string
	Sequence   string
	TemplateID string // optional structural-template reference
}

// Index is the in-memory view of the on-disk corpus.
type Index struct {
	dir     string
	version string
	records []Record
}

// Open reads and validates the index at dir. Missing or unreadable files
// surface model.ErrIndexUnavailable; a readable manifest with the wrong
// version surfaces ErrVersionMismatch.
func Open(ctx context.Context, dir string) (*Index, error) {
	log := logger.Named("index")

	manifest, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %w", model.ErrIndexUnavailable, err)
	}
	version := strings.TrimSpace(string(manifest))
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: index has %q, engine supports %q",
			ErrVersionMismatch, version, FormatVersion)
	}

	f, err := os.Open(filepath.Join(dir, CorpusFile))
	if err != nil {
		return nil, fmt.Errorf("%w: opening corpus: %w", model.ErrIndexUnavailable, err)
	}
	defer f.Close()

	records, err := parseFASTA(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing corpus: %w", model.ErrIndexUnavailable, err)
	}

	// Stable record order regardless of file order, so search tie-breaks
	// are deterministic across index rebuilds.
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	log.Info(ctx, "index opened",
		logger.String("dir", dir),
		logger.String("version", version),
		logger.Int("records", len(records)),
	)

	return &Index{dir: dir, version: version, records: records}, nil
}

// Records returns the corpus records in stable ID order. Callers must not
// mutate the returned slice.
func (ix *Index) Records() []Record {
	return ix.records
}

// Version returns the manifest version string.
func (ix *Index) Version() string {
	return ix.version
}

// Len returns the number of corpus records.
func (ix *Index) Len() int {
	return len(ix.records)
}

// parseFASTA reads a FASTA stream. Header lines are ">id" optionally
// followed by whitespace and "template=<pdbid>"; sequence lines may wrap.
func parseFASTA(r io.Reader) ([]Record, error) {
	var (
		records []Record
		current *Record
		seq     bytes.Buffer
	)

	flush := func() {
		if current != nil {
			current.Sequence = seq.String()
			records = append(records, *current)
			seq.Reset()
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			fields := strings.Fields(strings.TrimPrefix(line, ">"))
			if len(fields) == 0 {
				return nil, fmt.Errorf("empty FASTA header")
			}
			rec := Record{ID: fields[0]}
			for _, f := range fields[1:] {
				if v, ok := strings.CutPrefix(f, "template="); ok {
					rec.TemplateID = v
				}
			}
			current = &rec
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("sequence data before first header")
		}
		seq.WriteString(strings.ToUpper(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return records, nil
}
