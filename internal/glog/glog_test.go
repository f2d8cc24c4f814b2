package glog

import (
	"bufio"
	"os"
	"strings"
	"testing"
)

func TestNewWritesStructuredJSON(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()

	l := New(w)
	l.Info().Str("component", "test").Log("hello")
	w.Close()

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		t.Fatal("expected at least one line of JSON output")
	}
	line := scanner.Text()
	if !strings.Contains(line, "hello") {
		t.Fatalf("expected output to contain the logged message, got: %s", line)
	}
	if !strings.Contains(line, "component") {
		t.Fatalf("expected output to contain the component field, got: %s", line)
	}
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Fatal("expected Default to memoize a single process-wide logger")
	}
}

func TestNamedAddsComponentField(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()

	parent := New(w)
	child := Named(parent, "scheduler")
	child.Info().Log("spawned")
	w.Close()

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		t.Fatal("expected at least one line of JSON output")
	}
	line := scanner.Text()
	if !strings.Contains(line, "scheduler") {
		t.Fatalf("expected the derived logger's output to carry the component field, got: %s", line)
	}
}

func TestNamedWithNilParentFallsBackToDefault(t *testing.T) {
	child := Named(nil, "worker")
	if child == nil {
		t.Fatal("expected a non-nil logger even with a nil parent")
	}
}
