package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pace-noge/defense-probe/internal/domain"
)

type memStore struct {
	objects map[string]string
	types   map[string]string
	err     error
}

func (m *memStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.objects[key] = string(data)
	m.types[key] = contentType
	return "mem://" + key, nil
}

func TestExporterUploadsResultAndTimeline(t *testing.T) {
	store := &memStore{objects: map[string]string{}, types: map[string]string{}}
	r := &domain.TestResult{TestID: "t-1", Domain: "a.test", RawLogs: "[2026-01-01T00:00:00.000Z] start\n"}
	if err := NewExporter(store).Save(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(store.objects["results/a.test/t-1.json"], `"testId": "t-1"`) {
		t.Errorf("json artifact = %q", store.objects["results/a.test/t-1.json"])
	}
	if store.objects["results/a.test/t-1.log"] != r.RawLogs {
		t.Errorf("timeline artifact = %q", store.objects["results/a.test/t-1.log"])
	}
	if store.types["results/a.test/t-1.json"] != "application/json" {
		t.Errorf("content type = %q", store.types["results/a.test/t-1.json"])
	}
}

func TestExporterReportsUploadFailure(t *testing.T) {
	store := &memStore{err: errors.New("bucket gone")}
	if err := NewExporter(store).Save(context.Background(), &domain.TestResult{TestID: "t"}); err == nil {
		t.Error("expected upload error")
	}
}
