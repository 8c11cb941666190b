// Command mkindex builds a versioned sequence index from reference FASTA
// files. The output directory is what the folding pipeline's index_dir
// points at: a VERSION manifest plus a normalized sequence corpus.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/okian/protofold/internal/adapters/index"
	"github.com/okian/protofold/internal/domain/model"
)

// lineWidth is the wrap width for sequence lines in the corpus.
const lineWidth = 80

type record struct {
	id         string
	sequence   string
	templateID string
}

func main() {
	os.Exit(run())
}

func run() int {
	out := flag.String("out", "index", "output index directory")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-out dir] reference.fasta [more.fasta...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	var records []record
	seen := make(map[string]string)
	for _, path := range flag.Args() {
		recs, err := parseReferenceFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return 1
		}
		for _, r := range recs {
			if prev, dup := seen[r.id]; dup {
				if prev != r.sequence {
					fmt.Fprintf(os.Stderr, "duplicate record %q with conflicting sequences\n", r.id)
					return 1
				}
				continue
			}
			seen[r.id] = r.sequence
			records = append(records, r)
		}
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "no reference sequences found in input")
		return 1
	}

	// The engine re-sorts on load; sorting here keeps the corpus diffable
	// across rebuilds from the same inputs.
	sort.Slice(records, func(i, j int) bool { return records[i].id < records[j].id })

	if err := writeIndex(*out, records); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Printf("wrote %d records to %s (%s)\n", len(records), *out, index.FormatVersion)
	return 0
}

// parseReferenceFile reads one FASTA file of reference sequences. Headers
// are ">id" optionally followed by "template=<pdbid>".
func parseReferenceFile(path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		records []record
		current *record
		seq     strings.Builder
	)

	flush := func() error {
		if current == nil {
			return nil
		}
		current.sequence = seq.String()
		if err := validate(*current); err != nil {
			return err
		}
		records = append(records, *current)
		seq.Reset()
		current = nil
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if err := flush(); err != nil {
				return nil, err
			}
			fields := strings.Fields(strings.TrimPrefix(line, ">"))
			if len(fields) == 0 {
				return nil, fmt.Errorf("empty FASTA header")
			}
			rec := record{id: fields[0]}
			for _, field := range fields[1:] {
				if v, ok := strings.CutPrefix(field, "template="); ok {
					rec.templateID = v
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
	if err := flush(); err != nil {
		return nil, err
	}
	return records, nil
}

// validate checks the record against the residue alphabet the engine
// accepts at query time, so a bad corpus fails at build time instead.
func validate(r record) error {
	q := model.Query{ID: r.id, Sequence: r.sequence}
	if err := q.Validate(); err != nil {
		return err
	}
	return nil
}

// writeIndex lays down the manifest and the corpus.
func writeIndex(dir string, records []record) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	manifest := filepath.Join(dir, index.ManifestFile)
	if err := os.WriteFile(manifest, []byte(index.FormatVersion+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	corpus := filepath.Join(dir, index.CorpusFile)
	f, err := os.Create(corpus)
	if err != nil {
		return fmt.Errorf("creating corpus: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, r := range records {
		if r.templateID != "" {
			fmt.Fprintf(w, ">%s template=%s\n", r.id, r.templateID)
		} else {
			fmt.Fprintf(w, ">%s\n", r.id)
		}
		for off := 0; off < len(r.sequence); off += lineWidth {
			end := off + lineWidth
			if end > len(r.sequence) {
				end = len(r.sequence)
			}
			fmt.Fprintln(w, r.sequence[off:end])
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing corpus: %w", err)
	}
	return f.Close()
}
