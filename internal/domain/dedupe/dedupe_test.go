package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/protofold/internal/domain/dedupe"
	"github.com/okian/protofold/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func testOptions() model.Options {
	return model.Options{
		MaxHits:            64,
		Sensitivity:        model.SensitivityBalanced,
		EnsembleSize:       5,
		TopK:               3,
		RelaxMaxIterations: 1000,
		GPUMemoryFraction:  0.5,
	}
}

func TestContentKey(t *testing.T) {
	Convey("Given the submission content key", t, func() {
		q := model.Query{ID: "q1", Sequence: "MKTAYIAKQR"}
		opts := testOptions()

		Convey("When the same content is keyed twice", func() {
			So(dedupe.Key(q, opts), ShouldEqual, dedupe.Key(q, opts))
		})

		Convey("When only the query ID differs", func() {
			other := model.Query{ID: "q2", Sequence: "MKTAYIAKQR"}

			Convey("Then the key is unchanged, identity is content-based", func() {
				So(dedupe.Key(other, opts), ShouldEqual, dedupe.Key(q, opts))
			})
		})

		Convey("When the sequence differs", func() {
			other := model.Query{ID: "q1", Sequence: "MKTAYIAKQA"}
			So(dedupe.Key(other, opts), ShouldNotEqual, dedupe.Key(q, opts))
		})

		Convey("When a result-affecting option differs", func() {
			bumped := opts
			bumped.TopK = 4
			So(dedupe.Key(q, bumped), ShouldNotEqual, dedupe.Key(q, opts))

			deeper := opts
			deeper.EnsembleSize = 6
			So(dedupe.Key(q, deeper), ShouldNotEqual, dedupe.Key(q, opts))

			faster := opts
			faster.Sensitivity = model.SensitivityFast
			So(dedupe.Key(q, faster), ShouldNotEqual, dedupe.Key(q, opts))
		})
	})
}

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it starts empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording a new submission", func() {
			d := dedupe.NewInMemoryDeduper()
			jobID, seen := d.RecallOrRecord(ctx, "key-1", "job-1")

			Convey("Then the new job ID is claimed", func() {
				So(seen, ShouldBeFalse)
				So(jobID, ShouldEqual, "job-1")
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And resubmitting the same content returns the original job", func() {
				jobID, seen := d.RecallOrRecord(ctx, "key-1", "job-2")
				So(seen, ShouldBeTrue)
				So(jobID, ShouldEqual, "job-1")
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And Recall sees the recorded claim", func() {
				jobID, ok := d.Recall(ctx, "key-1")
				So(ok, ShouldBeTrue)
				So(jobID, ShouldEqual, "job-1")
			})
		})

		Convey("When recalling an unknown key", func() {
			d := dedupe.NewInMemoryDeduper()
			_, ok := d.Recall(ctx, "missing")
			So(ok, ShouldBeFalse)
		})

		Convey("When a key is forgotten", func() {
			d := dedupe.NewInMemoryDeduper()
			d.RecallOrRecord(ctx, "key-1", "job-1")
			d.Forget(ctx, "key-1")

			Convey("Then the content can be claimed again", func() {
				So(d.Size(), ShouldEqual, 0)
				jobID, seen := d.RecallOrRecord(ctx, "key-1", "job-2")
				So(seen, ShouldBeFalse)
				So(jobID, ShouldEqual, "job-2")
			})
		})

		Convey("When forgetting an unknown key", func() {
			d := dedupe.NewInMemoryDeduper()
			So(func() { d.Forget(ctx, "missing") }, ShouldNotPanic)
			So(d.Size(), ShouldEqual, 0)
		})
	})
}

func TestBoundedEviction(t *testing.T) {
	Convey("Given a deduper bounded at three entries", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))

		Convey("When more entries arrive than fit", func() {
			for i := 1; i <= 4; i++ {
				d.RecallOrRecord(ctx, fmt.Sprintf("key-%d", i), fmt.Sprintf("job-%d", i))
			}

			Convey("Then the size stays at the bound", func() {
				So(d.Size(), ShouldEqual, 3)
			})

			Convey("Then the oldest entry was evicted", func() {
				_, ok := d.Recall(ctx, "key-1")
				So(ok, ShouldBeFalse)

				jobID, ok := d.Recall(ctx, "key-4")
				So(ok, ShouldBeTrue)
				So(jobID, ShouldEqual, "job-4")
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))

		Convey("When many entries arrive", func() {
			for i := 0; i < 100; i++ {
				d.RecallOrRecord(ctx, fmt.Sprintf("key-%d", i), fmt.Sprintf("job-%d", i))
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, 100)
				_, ok := d.Recall(ctx, "key-0")
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func TestDeduperConcurrency(t *testing.T) {
	Convey("Given concurrent submitters racing on the same key", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()

		const racers = 32
		winners := make(chan string, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				jobID, _ := d.RecallOrRecord(ctx, "shared-key", fmt.Sprintf("job-%d", id))
				winners <- jobID
			}(i)
		}
		wg.Wait()
		close(winners)

		Convey("Then exactly one job ID wins for everyone", func() {
			So(d.Size(), ShouldEqual, 1)
			first := <-winners
			for jobID := range winners {
				So(jobID, ShouldEqual, first)
			}
		})
	})
}
