package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dhcgn/mail-receiver/model"
)

func TestFileTrackerPersists(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	records := []Record{
		{Hash: "h1", MessageID: "m1", Outcome: model.OutcomeProcessed, ReplyKey: "abc"},
		{Hash: "h2", MessageID: "m2", Outcome: model.OutcomeUnprocessable},
		{Hash: "h1", MessageID: "m1-again", Outcome: model.OutcomeError},
		{Hash: "", MessageID: "ignored"},
	}
	for _, rec := range records {
		if err := tracker.MarkProcessed(rec); err != nil {
			t.Fatalf("MarkProcessed(%+v) error = %v", rec, err)
		}
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reloaded, err := NewFileTracker(dir, false)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if !reloaded.AlreadyProcessed("h1") || !reloaded.AlreadyProcessed("h2") {
		t.Error("expected both hashes after reload")
	}
	if reloaded.AlreadyProcessed("") {
		t.Error("empty hash must never count as processed")
	}

	rec, ok := reloaded.Lookup("h1")
	if !ok || rec.MessageID != "m1" || rec.Outcome != model.OutcomeProcessed || rec.ReplyKey != "abc" {
		t.Errorf("Lookup(h1) = %+v, %v", rec, ok)
	}
	if rec.ProcessedAt.IsZero() {
		t.Error("ProcessedAt should be set on write")
	}

	snap := reloaded.Snapshot()
	if snap.Processed != 2 || snap.Outcomes[model.OutcomeProcessed] != 1 || snap.Outcomes[model.OutcomeUnprocessable] != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestFileTrackerDryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewFileTracker(dir, false)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	if err := tracker.MarkProcessed(Record{Hash: "h1"}); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if !tracker.AlreadyProcessed("h1") {
		t.Error("dry run should still dedup in memory")
	}
	if _, err := os.Stat(filepath.Join(dir, fileName)); !os.IsNotExist(err) {
		t.Errorf("state file written in dry run: %v", err)
	}
}

func TestFileTrackerRejectsCorruptState(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("{not json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileTracker(dir, false); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewFileTrackerEmptyDir(t *testing.T) {
	if _, err := NewFileTracker("  ", false); err == nil {
		t.Error("expected error for empty state dir")
	}
}

func TestDryRunTracker(t *testing.T) {
	base := NewMemoryTracker()
	if err := base.MarkProcessed(Record{Hash: "old", Outcome: model.OutcomeProcessed}); err != nil {
		t.Fatal(err)
	}

	dry := NewDryRunTracker(base)
	if !dry.AlreadyProcessed("old") {
		t.Error("base records must count as processed")
	}
	if err := dry.MarkProcessed(Record{Hash: "new", Outcome: model.OutcomeMissing}); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if !dry.AlreadyProcessed("new") {
		t.Error("dry run should dedup within the run")
	}
	if base.AlreadyProcessed("new") {
		t.Error("dry run wrote to the base tracker")
	}
	if snap := dry.Snapshot(); snap.Processed != 1 || snap.Outcomes[model.OutcomeMissing] != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}
