// Package pdbio serializes relaxed structures as PDB files. The output is a
// C-alpha trace: one ATOM record per residue, per-residue confidence in the
// B-factor column, and REMARK lines carrying the ranking metadata.
package pdbio

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/okian/protofold/internal/domain/model"
)

// threeLetter maps one-letter residue codes to PDB residue names.
// Unknown residues serialize as UNK.
var threeLetter = map[byte]string{
	'A': "ALA", 'C': "CYS", 'D': "ASP", 'E': "GLU", 'F': "PHE",
	'G': "GLY", 'H': "HIS", 'I': "ILE", 'K': "LYS", 'L': "LEU",
	'M': "MET", 'N': "ASN", 'P': "PRO", 'Q': "GLN", 'R': "ARG",
	'S': "SER", 'T': "THR", 'V': "VAL", 'W': "TRP", 'Y': "TYR",
	'X': "UNK",
}

// Write serializes one structure to w. The sequence provides residue names
// and must match the coordinate count.
func Write(w io.Writer, sequence string, s model.RelaxedStructure) error {
	if len(sequence) != len(s.Coords) {
		return fmt.Errorf("%w: sequence length %d does not match %d coordinates",
			model.ErrInvalidInput, len(sequence), len(s.Coords))
	}
	if len(s.PLDDT) != len(s.Coords) {
		return fmt.Errorf("%w: %d confidence values for %d coordinates",
			model.ErrInvalidInput, len(s.PLDDT), len(s.Coords))
	}

	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "HEADER    PREDICTED STRUCTURE                     %s\n", s.CandidateID)
	fmt.Fprintf(bw, "REMARK   3 CANDIDATE %s\n", s.CandidateID)
	fmt.Fprintf(bw, "REMARK   3 RANK %d\n", s.Rank)
	fmt.Fprintf(bw, "REMARK   3 GLOBAL CONFIDENCE %.2f\n", s.Global)
	fmt.Fprintf(bw, "REMARK   3 RELAXATION %s AFTER %d ITERATIONS\n", remarkStatus(s.Convergence), s.Iterations)
	fmt.Fprintf(bw, "REMARK   3 FINAL ENERGY %.4f\n", s.FinalEnergy)

	for i, c := range s.Coords {
		resName, ok := threeLetter[sequence[i]]
		if !ok {
			resName = "UNK"
		}
		// Fixed-column ATOM record, occupancy 1.00, confidence as B-factor.
		fmt.Fprintf(bw, "ATOM  %5d  CA  %3s A%4d    %8.3f%8.3f%8.3f%6.2f%6.2f           C\n",
			i+1, resName, i+1, c.X, c.Y, c.Z, 1.00, s.PLDDT[i])
	}

	fmt.Fprintf(bw, "TER   %5d      %3s A%4d\n", len(s.Coords)+1, lastResName(sequence), len(s.Coords))
	fmt.Fprintln(bw, "END")

	return bw.Flush()
}

// WriteFile serializes one structure to path, creating or truncating it.
func WriteFile(path, sequence string, s model.RelaxedStructure) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := Write(f, sequence, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Filename returns the canonical output name for a ranked structure.
func Filename(jobID string, rank int) string {
	return fmt.Sprintf("%s_rank%03d.pdb", jobID, rank)
}

func remarkStatus(c model.ConvergenceStatus) string {
	if c == model.Converged {
		return "CONVERGED"
	}
	return "ITERATION LIMIT"
}

func lastResName(sequence string) string {
	if len(sequence) == 0 {
		return "UNK"
	}
	if name, ok := threeLetter[sequence[len(sequence)-1]]; ok {
		return name
	}
	return "UNK"
}
