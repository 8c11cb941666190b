package ranking_test

import (
	"errors"
	"testing"

	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/internal/domain/ranking"
	. "github.com/smartystreets/goconvey/convey"
)

func prediction(id string, global float64) model.ModelPrediction {
	return model.ModelPrediction{
		MemberID: id,
		Coords:   []model.Coord{{X: 1}},
		PLDDT:    []float64{global},
		Global:   global,
	}
}

func TestRank(t *testing.T) {
	Convey("Given a set of ensemble predictions", t, func() {
		predictions := []model.ModelPrediction{
			prediction("model_3", 71.5),
			prediction("model_1", 88.2),
			prediction("model_2", 79.0),
		}

		Convey("When ranking them", func() {
			ranked := ranking.Rank(predictions)

			Convey("Then candidates are ordered by descending global confidence", func() {
				So(ranked, ShouldHaveLength, 3)
				So(ranked[0].Prediction.MemberID, ShouldEqual, "model_1")
				So(ranked[1].Prediction.MemberID, ShouldEqual, "model_2")
				So(ranked[2].Prediction.MemberID, ShouldEqual, "model_3")
			})

			Convey("Then ranks are one-based and contiguous", func() {
				for i, c := range ranked {
					So(c.Rank, ShouldEqual, i+1)
					So(c.Score, ShouldEqual, c.Prediction.Global)
				}
			})

			Convey("Then the input slice is left untouched", func() {
				So(predictions[0].MemberID, ShouldEqual, "model_3")
			})
		})

		Convey("When two predictions tie on global confidence", func() {
			ranked := ranking.Rank([]model.ModelPrediction{
				prediction("model_5", 80.0),
				prediction("model_2", 80.0),
				prediction("model_4", 80.0),
			})

			Convey("Then the tie breaks on ascending member ID", func() {
				So(ranked[0].Prediction.MemberID, ShouldEqual, "model_2")
				So(ranked[1].Prediction.MemberID, ShouldEqual, "model_4")
				So(ranked[2].Prediction.MemberID, ShouldEqual, "model_5")
			})
		})

		Convey("When ranking the same input twice", func() {
			first := ranking.Rank(predictions)
			second := ranking.Rank(predictions)

			Convey("Then the orderings are identical", func() {
				So(second, ShouldResemble, first)
			})
		})

		Convey("When the input is empty", func() {
			So(ranking.Rank(nil), ShouldBeEmpty)
		})
	})
}

func TestSelect(t *testing.T) {
	Convey("Given a ranked candidate list", t, func() {
		ranked := ranking.Rank([]model.ModelPrediction{
			prediction("model_1", 90),
			prediction("model_2", 80),
			prediction("model_3", 70),
		})

		Convey("When selecting fewer candidates than exist", func() {
			top, err := ranking.Select(ranked, 2)

			Convey("Then the best k are kept in rank order", func() {
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 2)
				So(top[0].Rank, ShouldEqual, 1)
				So(top[1].Rank, ShouldEqual, 2)
			})
		})

		Convey("When k exceeds the candidate count", func() {
			top, err := ranking.Select(ranked, 10)

			Convey("Then everything is selected without error", func() {
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 3)
			})
		})

		Convey("When k is zero or negative", func() {
			_, errZero := ranking.Select(ranked, 0)
			_, errNeg := ranking.Select(ranked, -1)

			Convey("Then the input is rejected", func() {
				So(errors.Is(errZero, model.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(errNeg, model.ErrInvalidInput), ShouldBeTrue)
			})
		})
	})
}
