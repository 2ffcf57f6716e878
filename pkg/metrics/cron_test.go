package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsNilSafe(t *testing.T) {
	var metrics *CronJobMetrics
	metrics.ObserveRun("job", time.Second, time.Now(), nil)
	metrics.IncLockSkip()
	NewCronJobMetrics(nil).ObserveRun("job", time.Second, time.Now(), errors.New("boom"))
}

func TestCronJobMetricsRecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	finished := time.Unix(1_780_000_000, 0)

	metrics.ObserveRun("balance_reconcile", 250*time.Millisecond, finished, nil)
	metrics.ObserveRun("balance_reconcile", time.Second, finished.Add(time.Hour), errors.New("db down"))
	metrics.ObserveRun("", time.Millisecond, finished, nil)
	metrics.IncLockSkip()
	metrics.IncLockSkip()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	runs := findMetricFamily(mfs, "engage_cron_job_runs_total")
	if runs == nil {
		t.Fatal("runs metric missing")
	}
	var ok, failed float64
	for _, metric := range runs.GetMetric() {
		if !matchesLabel(metric.GetLabel(), "job", "balance_reconcile") {
			continue
		}
		switch {
		case matchesLabel(metric.GetLabel(), "result", CronResultOK):
			ok = metric.GetCounter().GetValue()
		case matchesLabel(metric.GetLabel(), "result", CronResultError):
			failed = metric.GetCounter().GetValue()
		}
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("expected one ok and one error run, got ok=%v error=%v", ok, failed)
	}

	if got, err := fetchGaugeValue(mfs, "engage_cron_job_last_success_timestamp_seconds", "job", "balance_reconcile"); err != nil {
		t.Fatalf("fetch last success: %v", err)
	} else if got != float64(finished.Unix()) {
		t.Fatalf("last success should ignore the failed run, got %v", got)
	}
	if _, err := fetchGaugeValue(mfs, "engage_cron_job_last_success_timestamp_seconds", "job", "unknown"); err != nil {
		t.Fatalf("empty job name should be labelled unknown: %v", err)
	}
	if got, err := fetchHistogramSum(mfs, "engage_cron_job_duration_seconds", "job", "balance_reconcile"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got != 1.25 {
		t.Fatalf("expected duration sum 1.25, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.lockSkips); got != 2 {
		t.Fatalf("expected 2 lock skips, got %v", got)
	}
}

func fetchGaugeValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetGauge().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("gauge %q missing label %s=%s", name, label, value)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
