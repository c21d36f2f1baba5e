package monitoring

import (
	"fmt"
	"testing"
	"time"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestThrottle(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	th := NewThrottle(5 * time.Second)
	start := time.Unix(100, 0)

	th.Logf(start, "[Frame] over budget: %d", 1)
	th.Logf(start.Add(time.Second), "[Frame] over budget: %d", 2)
	th.Logf(start.Add(2*time.Second), "[Frame] over budget: %d", 3)
	th.Logf(start.Add(6*time.Second), "[Frame] over budget: %d", 4)

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if lines[0] != "[Frame] over budget: 1" {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[1] != "[Frame] over budget: 4 (2 similar suppressed)" {
		t.Errorf("second line = %q", lines[1])
	}
}
