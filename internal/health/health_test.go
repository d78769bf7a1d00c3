package health

import (
	"errors"
	"testing"
	"time"
)

func TestRecordSuccessThenFailure(t *testing.T) {
	tr := New()
	now := time.Now()

	tr.RecordSuccess("h1", now)
	s, ok := tr.Get("h1")
	if !ok || !s.Healthy || s.LastError != "" {
		t.Fatalf("unexpected status after success: %+v ok=%v", s, ok)
	}

	tr.RecordFailure("h1", now.Add(time.Second), errors.New("dial tcp: refused"))
	s, ok = tr.Get("h1")
	if !ok || s.Healthy || s.LastError == "" {
		t.Fatalf("unexpected status after failure: %+v ok=%v", s, ok)
	}
}

func TestRemoveEvicts(t *testing.T) {
	tr := New()
	tr.RecordSuccess("h1", time.Now())
	tr.Remove("h1")
	if _, ok := tr.Get("h1"); ok {
		t.Error("expected host status to be evicted")
	}
}

func TestGetUnknownHost(t *testing.T) {
	tr := New()
	if _, ok := tr.Get("unknown"); ok {
		t.Error("expected ok=false for a host never recorded")
	}
}
