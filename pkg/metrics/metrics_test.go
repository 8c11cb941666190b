package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given the metrics manager", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "protofold")
				So(manager.subsystem, ShouldEqual, "pipeline")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test-namespace"),
				WithSubsystem("test-subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "test-namespace")
				So(manager.subsystem, ShouldEqual, "test-subsystem")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
			})
		})

		Convey("When options carry empty values", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithRegistry(registry),
			)

			Convey("Then the defaults survive", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "protofold")
				So(manager.subsystem, ShouldEqual, "pipeline")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestGlobalRegistry(t *testing.T) {
	Convey("Given the process-wide registry", t, func() {
		Convey("Then it is available for exposition", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})

		Convey("Then gathering never fails", func() {
			_, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
		})
	})
}

func TestRecordingHelpers(t *testing.T) {
	Convey("Given the package-level recording helpers", t, func() {
		Convey("When recording job lifecycle metrics", func() {
			So(func() {
				RecordJobSubmitted()
				RecordJobRejected()
				RecordJobDuplicate()
				RecordJobTerminal("completed")
				RecordJobTerminal("partially_completed")
				UpdateJobsInFlight(3)
				UpdateJobsInFlight(0)
			}, ShouldNotPanic)
		})

		Convey("When recording stage metrics", func() {
			So(func() {
				RecordStageDuration("searching", 0.25)
				RecordStageDuration("inferring", 12.5)
				RecordStageRetry("searching")
			}, ShouldNotPanic)
		})

		Convey("When recording search and alignment metrics", func() {
			So(func() {
				RecordSearchHits(17)
				RecordHitsDiscarded(4)
				RecordLowEvidenceJob()
				RecordMSARows(32)
			}, ShouldNotPanic)
		})

		Convey("When recording ensemble and relaxation metrics", func() {
			So(func() {
				RecordMemberFailure()
				RecordRelaxOutcome("converged")
				RecordRelaxOutcome("iteration_limit")
				RecordRelaxOutcome("unstable")
				RecordRelaxIterations(142)
			}, ShouldNotPanic)
		})

		Convey("When recording GPU admission metrics", func() {
			So(func() {
				UpdateGPUBudget(16 << 30)
				UpdateGPUInUse(4 << 30)
				UpdateGPUWaiters(2)
				RecordGPUAdmitLatency(0.05)
				RecordGPURejection()
			}, ShouldNotPanic)
		})

		Convey("When recording queue and worker metrics", func() {
			So(func() {
				UpdateQueueSize(10)
				UpdateQueueCapacity(1024)
				UpdateQueueUtilization(0.01)
				RecordQueueEnqueue()
				RecordQueueEnqueueError()
				RecordQueueDequeue()
				UpdateWorkerActiveCount(8)
				RecordWorkerError()
			}, ShouldNotPanic)
		})

		Convey("When recording edge values", func() {
			So(func() {
				RecordSearchHits(0)
				RecordHitsDiscarded(0)
				RecordRelaxIterations(0)
				UpdateGPUInUse(0)
				UpdateQueueSize(0)
				RecordStageDuration("", 0)
				RecordJobTerminal("")
			}, ShouldNotPanic)
		})
	})
}

func TestConcurrentRecording(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					RecordJobSubmitted()
					RecordStageDuration("searching", float64(j)/1000)
					UpdateQueueSize(j)
					UpdateGPUInUse(uint64(j))
					RecordRelaxOutcome("converged")
				}
			}(i)
		}
		wg.Wait()

		Convey("Then recording is race-free", func() {
			_, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
		})
	})
}
