package types_test

import (
	"encoding/json"
	"testing"

	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSummarize(t *testing.T) {
	Convey("Given a finished job result", t, func() {
		result := types.JobResult{
			Record: model.JobRecord{JobID: "job-1", Status: model.StatusCompleted},
			Artifacts: []model.RelaxedStructure{
				{CandidateID: "model_2", Rank: 1, Global: 91.5, Convergence: model.Converged, Iterations: 120},
				{CandidateID: "model_1", Rank: 2, Global: 88.0, Convergence: model.IterationLimit, Iterations: 1000},
			},
		}

		Convey("When summarizing it", func() {
			summaries := types.Summarize(result)

			Convey("Then each artifact becomes one line item in rank order", func() {
				So(summaries, ShouldHaveLength, 2)
				So(summaries[0].Rank, ShouldEqual, 1)
				So(summaries[0].CandidateID, ShouldEqual, "model_2")
				So(summaries[0].Global, ShouldEqual, 91.5)
				So(summaries[0].Convergence, ShouldEqual, "converged")
				So(summaries[1].Convergence, ShouldEqual, "iteration_limit")
				So(summaries[1].Iterations, ShouldEqual, 1000)
			})
		})

		Convey("When the result has no artifacts", func() {
			So(types.Summarize(types.JobResult{}), ShouldBeEmpty)
		})
	})
}

func TestJobResultJSON(t *testing.T) {
	Convey("Given a job result serialized for the output directory", t, func() {
		result := types.JobResult{
			Record: model.JobRecord{
				JobID:  "job-1",
				Status: model.StatusPartiallyCompleted,
				Stage:  model.StageDone,
			},
		}

		data, err := json.Marshal(result)
		So(err, ShouldBeNil)

		Convey("Then the wire names are stable", func() {
			So(string(data), ShouldContainSubstring, `"record"`)
			So(string(data), ShouldContainSubstring, `"job_id":"job-1"`)
			So(string(data), ShouldContainSubstring, `"status":"partially_completed"`)
		})

		Convey("Then empty artifacts are omitted", func() {
			So(string(data), ShouldNotContainSubstring, `"artifacts"`)
		})
	})
}
