package pdbio_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/internal/encoding/pdbio"
	. "github.com/smartystreets/goconvey/convey"
)

func testStructure() model.RelaxedStructure {
	return model.RelaxedStructure{
		CandidateID: "model_2",
		Rank:        1,
		Coords: []model.Coord{
			{X: 0, Y: 0, Z: 0},
			{X: 3.8, Y: 0, Z: 0},
			{X: 7.6, Y: 0.5, Z: -0.25},
		},
		PLDDT:       []float64{91.5, 88.25, 72.0},
		Global:      84.37,
		Convergence: model.Converged,
		Iterations:  142,
		FinalEnergy: 0.0153,
	}
}

func TestWrite(t *testing.T) {
	Convey("Given a relaxed structure and its sequence", t, func() {
		s := testStructure()

		Convey("When it is serialized", func() {
			var buf bytes.Buffer
			err := pdbio.Write(&buf, "MKX", s)
			So(err, ShouldBeNil)
			lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

			Convey("Then the remarks carry the ranking metadata", func() {
				So(lines[0], ShouldStartWith, "HEADER")
				So(buf.String(), ShouldContainSubstring, "REMARK   3 CANDIDATE model_2")
				So(buf.String(), ShouldContainSubstring, "REMARK   3 RANK 1")
				So(buf.String(), ShouldContainSubstring, "REMARK   3 GLOBAL CONFIDENCE 84.37")
				So(buf.String(), ShouldContainSubstring, "REMARK   3 RELAXATION CONVERGED AFTER 142 ITERATIONS")
				So(buf.String(), ShouldContainSubstring, "REMARK   3 FINAL ENERGY 0.0153")
			})

			Convey("Then there is one ATOM record per residue plus TER and END", func() {
				var atoms []string
				for _, l := range lines {
					if strings.HasPrefix(l, "ATOM") {
						atoms = append(atoms, l)
					}
				}
				So(atoms, ShouldHaveLength, 3)
				So(lines[len(lines)-2], ShouldStartWith, "TER")
				So(lines[len(lines)-1], ShouldEqual, "END")
			})

			Convey("Then residue names follow the sequence with UNK fallback", func() {
				So(buf.String(), ShouldContainSubstring, " CA  MET A   1")
				So(buf.String(), ShouldContainSubstring, " CA  LYS A   2")
				So(buf.String(), ShouldContainSubstring, " CA  UNK A   3")
			})

			Convey("Then confidence lands in the B-factor column", func() {
				So(buf.String(), ShouldContainSubstring, "  1.00 91.50")
				So(buf.String(), ShouldContainSubstring, "  1.00 88.25")
				So(buf.String(), ShouldContainSubstring, "  1.00 72.00")
			})

			Convey("Then coordinates use fixed 8.3 columns", func() {
				So(buf.String(), ShouldContainSubstring, "   3.800   0.000   0.000")
				So(buf.String(), ShouldContainSubstring, "   7.600   0.500  -0.250")
			})
		})

		Convey("When the structure hit the iteration cap", func() {
			s.Convergence = model.IterationLimit
			var buf bytes.Buffer
			So(pdbio.Write(&buf, "MKX", s), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, "RELAXATION ITERATION LIMIT AFTER 142 ITERATIONS")
		})

		Convey("When the sequence length does not match the coordinates", func() {
			var buf bytes.Buffer
			err := pdbio.Write(&buf, "MK", s)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When the confidence track is incomplete", func() {
			s.PLDDT = s.PLDDT[:2]
			var buf bytes.Buffer
			err := pdbio.Write(&buf, "MKX", s)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestWriteFile(t *testing.T) {
	Convey("Given an output path", t, func() {
		path := filepath.Join(t.TempDir(), pdbio.Filename("job-1", 1))

		Convey("When the structure is written to disk", func() {
			So(pdbio.WriteFile(path, "MKX", testStructure()), ShouldBeNil)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, "REMARK   3 CANDIDATE model_2")
		})
	})
}

func TestFilename(t *testing.T) {
	Convey("Given the canonical artifact naming", t, func() {
		So(pdbio.Filename("job-1", 1), ShouldEqual, "job-1_rank001.pdb")
		So(pdbio.Filename("job-1", 12), ShouldEqual, "job-1_rank012.pdb")
	})
}
