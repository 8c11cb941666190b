package model

// SearchHit is a reference sequence matched to the query by the homology
// search engine. Consumed only by the MSA builder.
type SearchHit struct {
	HitID      string  // stable identifier of the reference record
	Sequence   string  // full reference sequence
	Score      float64 // similarity score, higher is more similar
	QueryStart int     // first aligned query position (inclusive)
	QueryEnd   int     // last aligned query position (exclusive)
	Aligned    string  // hit residues aligned to [QueryStart, QueryEnd)
	TemplateID string  // optional structural-template reference, empty if none
}

// Coverage returns the fraction of query positions the hit aligns to.
func (h SearchHit) Coverage(queryLen int) float64 {
	if queryLen <= 0 {
		return 0
	}
	return float64(h.QueryEnd-h.QueryStart) / float64(queryLen)
}

// GapSymbol marks an unaligned position in an MSA row.
const GapSymbol = byte('-')

// MSARow is one aligned sequence in an MSA, with its provenance.
type MSARow struct {
	SourceHitID string // empty for the query row
	Residues    []byte // exactly MSA.Columns() wide, GapSymbol for gaps
}

// MSA is a rectangular matrix of aligned residues. The query row is always
// row zero and has no gaps relative to itself; columns are anchored to
// query coordinates.
type MSA struct {
	QueryID string
	Rows    []MSARow
}

// Columns returns the alignment width, which equals the query length.
func (m MSA) Columns() int {
	if len(m.Rows) == 0 {
		return 0
	}
	return len(m.Rows[0].Residues)
}

// Depth returns the number of rows including the query row.
func (m MSA) Depth() int {
	return len(m.Rows)
}

// Template is a known reference structure aligned to the query frame.
type Template struct {
	TemplateID string
	// QueryToTemplate maps query positions to template residue indexes.
	// Positions without a template residue are absent from the map.
	QueryToTemplate map[int]int
}

// TemplateSet holds zero or more templates for one job.
type TemplateSet struct {
	Templates []Template
}

// Coord is a 3-D coordinate in ångströms.
type Coord struct {
	X, Y, Z float64
}

// ModelPrediction is one ensemble member's output: per-residue coordinates
// and confidence plus a global confidence score. Coordinates are not
// guaranteed physically valid; validity is restored by relaxation.
// Immutable once produced.
type ModelPrediction struct {
	MemberID string
	Coords   []Coord   // one per query residue
	PLDDT    []float64 // per-residue confidence in [0,100]
	Global   float64   // global confidence in [0,100]
}

// RankedCandidate is a prediction plus the rank assigned to it.
// Ranks form a strict total order by descending global score, ties broken
// by ascending member ID.
type RankedCandidate struct {
	Prediction ModelPrediction
	Rank       int // 1-based
	Score      float64
}

// ConvergenceStatus distinguishes the two valid relaxation outcomes.
type ConvergenceStatus string

// Relaxation terminal states. Hitting the iteration cap is not an error.
const (
	Converged      ConvergenceStatus = "converged"
	IterationLimit ConvergenceStatus = "iteration_limit"
)

// RelaxedStructure is the terminal artifact: minimized coordinates plus
// the convergence status and the originating candidate.
type RelaxedStructure struct {
	CandidateID string // member ID of the originating RankedCandidate
	Rank        int
	Coords      []Coord
	PLDDT       []float64
	Global      float64
	Convergence ConvergenceStatus
	Iterations  int
	FinalEnergy float64
}
