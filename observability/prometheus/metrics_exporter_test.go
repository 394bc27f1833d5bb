package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-task-scheduler/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("taskscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTaskDuration("sched-a", core.TaskPriorityHigh, 250*time.Millisecond)
	exporter.RecordTaskPanic("sched-a", "panic")
	exporter.RecordQueueDepth("sched-a", core.TaskPriorityLow, 7)
	exporter.RecordTaskRejected("sched-a", "shutting down")
	exporter.RecordTaskAbandoned("sched-a", core.TaskPriorityBackground)
	exporter.RecordTaskAbandoned("sched-a", core.TaskPriorityBackground)

	panicTotal := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("sched-a"))
	if panicTotal != 1 {
		t.Fatalf("panic total = %v, want 1", panicTotal)
	}

	queueDepth := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("sched-a", "low"))
	if queueDepth != 7 {
		t.Fatalf("queue depth = %v, want 7", queueDepth)
	}

	rejected := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("sched-a", "shutting down"))
	if rejected != 1 {
		t.Fatalf("rejected total = %v, want 1", rejected)
	}

	abandoned := testutil.ToFloat64(exporter.taskAbandonedTotal.WithLabelValues("sched-a", "background"))
	if abandoned != 2 {
		t.Fatalf("abandoned total = %v, want 2", abandoned)
	}

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("sched-a", "high"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("taskscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("taskscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordTaskPanic("sched-a", nil)
	second.RecordTaskPanic("sched-a", nil)

	got := testutil.ToFloat64(first.taskPanicTotal.WithLabelValues("sched-a"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

// TestMetricsExporter_WiredIntoScheduler verifies the exporter receives
// scheduler events end to end
func TestMetricsExporter_WiredIntoScheduler(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("wired", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	s := core.NewTaskSchedulerWithConfig(1, &core.TaskSchedulerConfig{
		Name:         "wired",
		Logger:       core.NewNoOpLogger(),
		Metrics:      exporter,
		PanicHandler: &core.DefaultPanicHandler{Logger: core.NewNoOpLogger()},
	})
	ctx := context.Background()
	s.Schedule(ctx, core.NewTask(func(context.Context) { panic("x") }, core.DefaultTaskTraits()), nil)

	task := s.TryGetWork()
	s.RunTask(ctx, task, 0)

	if got := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("wired")); got != 1 {
		t.Fatalf("panic total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.taskAbandonedTotal.WithLabelValues("wired", "normal")); got != 1 {
		t.Fatalf("abandoned total = %v, want 1", got)
	}
	count, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("wired", "normal"))
	if err != nil || count != 1 {
		t.Fatalf("duration samples = %d (%v), want 1", count, err)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
