// Package msa builds the multiple-sequence alignment and template set
// consumed by the inference ensemble.
//
// Columns are anchored to query coordinates: every row is exactly query
// length wide, the query row is row zero and has no gaps. Row selection is
// diversity-aware rather than raw score order, so near-identical hits do
// not dominate the alignment.
package msa

import (
	"context"
	"fmt"

	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/pkg/logger"
	"github.com/okian/protofold/pkg/metrics"
)

// Default build policy. Both are configurable; the exact thresholds are
// policy parameters, not fixed behavior.
const (
	defaultMinCoverage = 0.5
	defaultMaxRows     = 256
)

// Report accounts for every hit that went in. Nothing is dropped without
// a trace.
type Report struct {
	HitsIn           int
	DroppedCoverage  int
	DroppedDuplicate int
	DroppedCapacity  int
	RowsSelected     int // including the query row
	LowEvidence      bool
}

// Discarded returns the total number of hits not represented in the MSA.
func (r Report) Discarded() int {
	return r.DroppedCoverage + r.DroppedDuplicate + r.DroppedCapacity
}

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithMinCoverage sets the minimum aligned fraction of the query a hit
// must reach to be considered.
func WithMinCoverage(frac float64) Option {
	return func(b *Builder) {
		if frac > 0 && frac <= 1 {
			b.minCoverage = frac
		}
	}
}

// WithMaxRows caps the number of MSA rows including the query row.
func WithMaxRows(n int) Option {
	return func(b *Builder) {
		if n > 1 {
			b.maxRows = n
		}
	}
}

// Builder converts raw search hits into an MSA and a template set.
type Builder struct {
	minCoverage float64
	maxRows     int
	logger      logger.Logger
}

// NewBuilder creates a Builder with the default policy.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		minCoverage: defaultMinCoverage,
		maxRows:     defaultMaxRows,
		logger:      logger.Named("msa"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces the MSA, the template set, and an accounting report.
// Zero hits is valid input: the MSA is the query row alone and the report
// carries the low-evidence flag for downstream confidence interpretation.
func (b *Builder) Build(ctx context.Context, query model.Query, hits []model.SearchHit) (model.MSA, model.TemplateSet, Report, error) {
	if err := query.Validate(); err != nil {
		return model.MSA{}, model.TemplateSet{}, Report{}, err
	}

	report := Report{HitsIn: len(hits)}
	cols := query.Len()

	// Coverage filter before anything else.
	var usable []model.SearchHit
	for _, h := range hits {
		if h.Coverage(cols) < b.minCoverage {
			report.DroppedCoverage++
			continue
		}
		usable = append(usable, h)
	}

	// Deduplicate identical sequence content, keeping the first (highest
	// scoring, since hits arrive score-ordered).
	seen := make(map[string]struct{}, len(usable))
	deduped := usable[:0]
	for _, h := range usable {
		if _, dup := seen[h.Sequence]; dup {
			report.DroppedDuplicate++
			continue
		}
		seen[h.Sequence] = struct{}{}
		deduped = append(deduped, h)
	}

	selected := b.selectDiverse(deduped, cols)
	report.DroppedCapacity = len(deduped) - len(selected)

	rows := make([]model.MSARow, 0, len(selected)+1)
	rows = append(rows, model.MSARow{Residues: []byte(query.Sequence)})
	for _, h := range selected {
		rows = append(rows, hitRow(h, cols))
	}

	m := model.MSA{QueryID: query.ID, Rows: rows}
	templates := collectTemplates(selected)

	report.RowsSelected = len(rows)
	report.LowEvidence = len(rows) == 1
	if report.LowEvidence {
		metrics.RecordLowEvidenceJob()
	}
	metrics.RecordMSARows(len(rows))
	metrics.RecordHitsDiscarded(report.Discarded())

	b.logger.Debug(ctx, "alignment built",
		logger.String("query_id", query.ID),
		logger.Int("rows", len(rows)),
		logger.Int("discarded", report.Discarded()),
		logger.Bool("low_evidence", report.LowEvidence),
	)
	return m, templates, report, nil
}

// selectDiverse picks up to maxRows-1 hit rows by greedy maximization of
// pairwise distance: seed with the top-scoring hit, then repeatedly add
// the hit whose minimum distance to the already-selected set is largest.
// Ties fall back to input (score) order, keeping selection deterministic.
func (b *Builder) selectDiverse(hits []model.SearchHit, cols int) []model.SearchHit {
	budget := b.maxRows - 1 // query row takes one slot
	if len(hits) <= budget {
		return hits
	}

	selected := make([]model.SearchHit, 0, budget)
	remaining := make([]model.SearchHit, len(hits))
	copy(remaining, hits)

	// Seed: best-scoring hit (first in score order).
	selected = append(selected, remaining[0])
	remaining = remaining[1:]

	for len(selected) < budget && len(remaining) > 0 {
		bestIdx := 0
		bestDist := -1.0
		for i, cand := range remaining {
			d := minDistance(cand, selected, cols)
			if d > bestDist {
				bestDist = d
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// minDistance returns the smallest pairwise distance from cand to any
// already-selected hit, comparing query-frame rows.
func minDistance(cand model.SearchHit, selected []model.SearchHit, cols int) float64 {
	candRow := hitRow(cand, cols).Residues
	minD := 1.0
	for _, s := range selected {
		d := rowDistance(candRow, hitRow(s, cols).Residues)
		if d < minD {
			minD = d
		}
	}
	return minD
}

// rowDistance is the fraction of columns at which two rows differ.
// Gap-vs-gap columns count as identical.
func rowDistance(a, b []byte) float64 {
	if len(a) == 0 {
		return 0
	}
	diff := 0
	for i := range a {
		if a[i] != b[i] {
			diff++
		}
	}
	return float64(diff) / float64(len(a))
}

// hitRow places the hit's aligned residues at its query span and gaps
// everywhere else.
func hitRow(h model.SearchHit, cols int) model.MSARow {
	residues := make([]byte, cols)
	for i := range residues {
		residues[i] = model.GapSymbol
	}
	for i := 0; i < len(h.Aligned) && h.QueryStart+i < cols; i++ {
		residues[h.QueryStart+i] = h.Aligned[i]
	}
	return model.MSARow{SourceHitID: h.HitID, Residues: residues}
}

// collectTemplates builds the template set from hits that carry a
// structural-template reference, mapped into query coordinates.
func collectTemplates(hits []model.SearchHit) model.TemplateSet {
	var ts model.TemplateSet
	for _, h := range hits {
		if h.TemplateID == "" {
			continue
		}
		mapping := make(map[int]int, h.QueryEnd-h.QueryStart)
		for i := 0; i < h.QueryEnd-h.QueryStart; i++ {
			if i < len(h.Aligned) && h.Aligned[i] != model.GapSymbol {
				mapping[h.QueryStart+i] = i
			}
		}
		ts.Templates = append(ts.Templates, model.Template{
			TemplateID:      h.TemplateID,
			QueryToTemplate: mapping,
		})
	}
	return ts
}

// Validate checks the MSA invariants: rectangular shape and a gap-free
// query row. Used by tests and by the orchestrator before inference.
func Validate(m model.MSA) error {
	if len(m.Rows) == 0 {
		return fmt.Errorf("%w: MSA has no rows", model.ErrInvalidInput)
	}
	cols := len(m.Rows[0].Residues)
	for i, row := range m.Rows {
		if len(row.Residues) != cols {
			return fmt.Errorf("%w: row %d has %d columns, want %d",
				model.ErrInvalidInput, i, len(row.Residues), cols)
		}
	}
	for i, r := range m.Rows[0].Residues {
		if r == model.GapSymbol {
			return fmt.Errorf("%w: query row has gap at column %d", model.ErrInvalidInput, i)
		}
	}
	return nil
}
