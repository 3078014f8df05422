package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return 0
}

func TestUpdatePoolStats(t *testing.T) {
	c := New()
	c.UpdatePoolStats(3, 2, 5, 1)

	if v := gaugeValue(t, c.connectionsActive); v != 3 {
		t.Errorf("active = %v, want 3", v)
	}
	if v := gaugeValue(t, c.connectionsIdle); v != 2 {
		t.Errorf("idle = %v, want 2", v)
	}
}

func TestPoolExhaustedIncrements(t *testing.T) {
	c := New()
	c.PoolExhausted()
	c.PoolExhausted()
	if v := gaugeValue(t, c.poolExhausted); v != 2 {
		t.Errorf("exhausted count = %v, want 2", v)
	}
}

func TestAnonymizeCompletedLabels(t *testing.T) {
	c := New()
	c.AnonymizeCompleted("k_anonymous", 10*time.Millisecond, 4)

	mfs, err := c.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "pganonproxy_partitions_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected pganonproxy_partitions_total to be registered")
	}
}
