package ratelimit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRecorder_Observe(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	recorder := NewRecorder(logger)
	pct := 95.0
	recorder.Observe(Summary{
		MaxAppUsagePct:    &pct,
		AccountUsagePct:   map[string]float64{"123": 80.0},
		AccountETASeconds: map[string]float64{"123": 120},
	})

	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) {
		t.Error("Critical app usage did not log at error level")
	}
	if !strings.Contains(out, "Account Insights quota usage high") {
		t.Error("High account usage did not log a warning")
	}
	if !strings.Contains(out, "Account is throttled") {
		t.Error("Nonzero ETA did not log a warning")
	}
}

func TestRecorder_ObserveQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	recorder := NewRecorder(logger)
	pct := 10.0
	recorder.Observe(Summary{
		MaxAppUsagePct:    &pct,
		AccountUsagePct:   map[string]float64{"123": 5.0},
		AccountETASeconds: map[string]float64{"123": 0},
	})

	out := buf.String()
	if strings.Contains(out, `"level":"warn"`) || strings.Contains(out, `"level":"error"`) {
		t.Errorf("Healthy summary produced warnings: %s", out)
	}
}

func TestRecorder_ObserveEmpty(t *testing.T) {
	var buf bytes.Buffer
	recorder := NewRecorder(zerolog.New(&buf))

	recorder.Observe(Summary{
		AccountUsagePct:   map[string]float64{},
		AccountETASeconds: map[string]float64{},
	})

	if buf.Len() != 0 {
		t.Errorf("Empty summary produced log output: %s", buf.String())
	}
}
