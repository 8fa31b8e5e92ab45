package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestReportRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureReportRepo("rpt_1"); err != nil {
		t.Fatalf("EnsureReportRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "rpt_1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	history, err := svc.History("rpt_1", 10)
	if err != nil {
		t.Fatalf("History() on empty repo error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}

	first, created, err := svc.CommitSnapshot("rpt_1", json.RawMessage(`{"schemaVersion":2,"drugId":"42"}`), "Avery", "Create report")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if !created || len(first.Hash) != 7 || len(first.FullHash) != 40 {
		t.Fatalf("unexpected first revision: %+v created=%v", first, created)
	}

	second, _, err := svc.CommitSnapshot("rpt_1", json.RawMessage(`{"schemaVersion":2,"drugId":"42","notes":[]}`), "Avery", "Save workspace")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	history, err = svc.History("rpt_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].FullHash != second.FullHash || history[1].FullHash != first.FullHash {
		t.Fatalf("unexpected history order: %+v", history)
	}
	if history[0].Message != "Save workspace" || history[0].Author != "Avery" {
		t.Fatalf("unexpected head revision: %+v", history[0])
	}

	limited, err := svc.History("rpt_1", 1)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(limited))
	}

	state, rev, err := svc.GetSnapshotByHash("rpt_1", first.Hash)
	if err != nil {
		t.Fatalf("GetSnapshotByHash() error = %v", err)
	}
	if rev.FullHash != first.FullHash {
		t.Fatalf("resolved %s, want %s", rev.FullHash, first.FullHash)
	}
	var doc map[string]any
	if err := json.Unmarshal(state, &doc); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if doc["drugId"] != "42" {
		t.Fatalf("unexpected state: %s", state)
	}
	if _, ok := doc["notes"]; ok {
		t.Fatal("first revision must not contain later fields")
	}
}

func TestCommitSnapshotSkipsUnchangedState(t *testing.T) {
	svc := New(t.TempDir())

	first, created, err := svc.CommitSnapshot("rpt_1", json.RawMessage(`{"a":1,"b":[1,2]}`), "Avery", "")
	if err != nil || !created {
		t.Fatalf("CommitSnapshot() = %v, created=%v", err, created)
	}
	// same document, different formatting
	again, created, err := svc.CommitSnapshot("rpt_1", json.RawMessage(`{ "b": [1, 2], "a": 1 }`), "Avery", "")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if created || again.FullHash != first.FullHash {
		t.Fatalf("expected no new revision, got %+v created=%v", again, created)
	}

	history, err := svc.History("rpt_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(history))
	}
	if history[0].Message != "Save workspace" {
		t.Fatalf("unexpected default message %q", history[0].Message)
	}
}

func TestCommitSnapshotRejectsInvalidInput(t *testing.T) {
	svc := New(t.TempDir())

	if _, _, err := svc.CommitSnapshot("rpt_1", json.RawMessage(`{`), "Avery", ""); err == nil {
		t.Fatal("expected error for malformed state")
	}
	if _, _, err := svc.CommitSnapshot("../escape", json.RawMessage(`{}`), "Avery", ""); err == nil {
		t.Fatal("expected error for path-like report id")
	}
}

func TestMissingRepoAndRevision(t *testing.T) {
	svc := New(t.TempDir())

	if _, err := svc.History("rpt_none", 10); !errors.Is(err, ErrNoRepository) {
		t.Fatalf("History() error = %v, want ErrNoRepository", err)
	}

	if _, _, err := svc.CommitSnapshot("rpt_1", json.RawMessage(`{}`), "Avery", ""); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if _, _, err := svc.GetSnapshotByHash("rpt_1", "deadbee"); !errors.Is(err, ErrNoRevision) {
		t.Fatalf("GetSnapshotByHash() error = %v, want ErrNoRevision", err)
	}
}

func TestRemoveReportRepo(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, _, err := svc.CommitSnapshot("rpt_1", json.RawMessage(`{}`), "Avery", ""); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if err := svc.RemoveReportRepo("rpt_1"); err != nil {
		t.Fatalf("RemoveReportRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "rpt_1")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("repo directory still present: %v", err)
	}
}

func TestConcurrentCommitSnapshot(t *testing.T) {
	svc := New(t.TempDir())

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			state := json.RawMessage(fmt.Sprintf(`{"tab":"tab-%02d"}`, idx))
			if _, _, err := svc.CommitSnapshot("rpt_1", state, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitSnapshot() concurrent error = %v", err)
		}
	}

	history, err := svc.History("rpt_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits in history, got %d", writers, len(history))
	}
	if !strings.HasPrefix(history[0].Message, "Commit ") {
		t.Fatalf("unexpected head revision: %+v", history[0])
	}
}
