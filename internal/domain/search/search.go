// Package search implements homology search over the sequence index.
//
// The engine scores corpus records by shared k-mer content against the
// query. Sensitivity selects the k-mer size and the score cutoff, trading
// speed for recall. For a fixed index and sensitivity the result set and
// its ordering are fully deterministic: hits are ordered by descending
// score with ties broken by stable hit ID.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/protofold/internal/adapters/index"
	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/pkg/logger"
	"github.com/okian/protofold/pkg/metrics"
)

// Engine is the homology search contract consumed by the orchestrator.
type Engine interface {
	// Search returns up to maxHits hits ordered by descending similarity.
	// A non-nil spill receives the per-job intermediate hit dump.
	Search(ctx context.Context, query model.Query, maxHits int, sensitivity model.Sensitivity, spill SpillWriter) ([]model.SearchHit, error)
}

// Per-sensitivity policy: smaller k-mers and lower cutoffs find more
// remote homologs at higher cost.
type level struct {
	kmer     int
	minScore float64
}

var levels = map[model.Sensitivity]level{
	model.SensitivityFast:     {kmer: 6, minScore: 0.10},
	model.SensitivityBalanced: {kmer: 4, minScore: 0.05},
	model.SensitivityThorough: {kmer: 3, minScore: 0.02},
}

// SpillWriter receives intermediate results for debugging large searches.
// Each call gets the writer of the job it serves; the scratch workspace
// implements the cleanup guarantee.
type SpillWriter interface {
	WriteSpill(name string, data []byte) error
}

// KmerEngine implements Engine over an in-memory index.
type KmerEngine struct {
	ix     *index.Index
	logger logger.Logger
}

// NewKmerEngine creates a search engine bound to an opened index.
func NewKmerEngine(ix *index.Index) *KmerEngine {
	return &KmerEngine{
		ix:     ix,
		logger: logger.Named("search"),
	}
}

// Search scans the corpus for records sharing k-mer content with the
// query. The context deadline is the stage's wall-clock budget; hitting
// it surfaces model.ErrSearchTimeout so the orchestrator can retry once
// at reduced sensitivity.
func (e *KmerEngine) Search(ctx context.Context, query model.Query, maxHits int, sensitivity model.Sensitivity, spill SpillWriter) ([]model.SearchHit, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if maxHits <= 0 {
		return nil, fmt.Errorf("%w: max_hits must be > 0", model.ErrInvalidInput)
	}
	lv, ok := levels[sensitivity]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sensitivity %q", model.ErrInvalidInput, sensitivity)
	}

	start := time.Now()
	queryKmers := kmerSet(query.Sequence, lv.kmer)

	var hits []model.SearchHit
	for i, rec := range e.ix.Records() {
		// Deadline check every batch of records, not every record.
		if i%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: after %s", model.ErrSearchTimeout, time.Since(start))
			default:
			}
		}

		score, qs, qe := scoreRecord(query.Sequence, rec.Sequence, queryKmers, lv.kmer)
		if score < lv.minScore {
			continue
		}
		hits = append(hits, model.SearchHit{
			HitID:      rec.ID,
			Sequence:   rec.Sequence,
			Score:      score,
			QueryStart: qs,
			QueryEnd:   qe,
			Aligned:    alignRegion(query.Sequence, rec.Sequence, qs, qe),
			TemplateID: rec.TemplateID,
		})
	}

	// Descending score, ties by hit ID for deterministic ordering.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].HitID < hits[j].HitID
	})
	if len(hits) > maxHits {
		hits = hits[:maxHits]
	}

	if spill != nil {
		e.spillHits(ctx, spill, hits)
	}

	metrics.RecordSearchHits(len(hits))
	e.logger.Debug(ctx, "search finished",
		logger.String("query_id", query.ID),
		logger.String("sensitivity", string(sensitivity)),
		logger.Int("hits", len(hits)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return hits, nil
}

// spillHits dumps the hit list to scratch. Failures are logged, not fatal:
// the spill is an intermediate, not an output.
func (e *KmerEngine) spillHits(ctx context.Context, spill SpillWriter, hits []model.SearchHit) {
	var sb strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&sb, "%s\t%.4f\t%d\t%d\n", h.HitID, h.Score, h.QueryStart, h.QueryEnd)
	}
	if err := spill.WriteSpill("hits.tsv", []byte(sb.String())); err != nil {
		e.logger.Warn(ctx, "spill write failed", logger.Error(err))
	}
}

// kmerSet returns the set of k-length substrings of seq.
func kmerSet(seq string, k int) map[string]struct{} {
	set := make(map[string]struct{})
	for i := 0; i+k <= len(seq); i++ {
		set[seq[i:i+k]] = struct{}{}
	}
	return set
}

// scoreRecord computes the fraction of query k-mers present in the record
// and the query span covered by matching k-mers.
func scoreRecord(query, record string, queryKmers map[string]struct{}, k int) (score float64, qs, qe int) {
	if len(queryKmers) == 0 {
		return 0, 0, 0
	}
	recKmers := kmerSet(record, k)

	matched := 0
	first, last := -1, -1
	for i := 0; i+k <= len(query); i++ {
		km := query[i : i+k]
		if _, ok := recKmers[km]; !ok {
			continue
		}
		matched++
		if first < 0 {
			first = i
		}
		last = i + k
	}
	if matched == 0 {
		return 0, 0, 0
	}
	return float64(matched) / float64(len(queryKmers)), first, last
}

// alignRegion produces the hit residues aligned to query positions
// [qs, qe). The k-mer model has no insertions, so the aligned span is the
// best-matching window of the record against that query region.
func alignRegion(query, record string, qs, qe int) string {
	span := qe - qs
	if span <= 0 {
		return ""
	}
	if len(record) <= span {
		// Short record: pad to span with the record centered at offset 0.
		padded := record + strings.Repeat(string(model.GapSymbol), span-len(record))
		return padded[:span]
	}

	region := query[qs:qe]
	bestOff, bestMatches := 0, -1
	for off := 0; off+span <= len(record); off++ {
		matches := 0
		for i := 0; i < span; i++ {
			if record[off+i] == region[i] {
				matches++
			}
		}
		if matches > bestMatches {
			bestMatches = matches
			bestOff = off
		}
	}
	return record[bestOff : bestOff+span]
}
