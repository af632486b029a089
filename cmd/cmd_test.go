package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dhcgn/mail-receiver/config"
	"github.com/dhcgn/mail-receiver/dispatch"
	"github.com/dhcgn/mail-receiver/model"
)

const testArchive = "../mbox/testdata/replies.mbox"

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error", "--state-dir", t.TempDir()))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestProcessCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reply.eml")
	raw := "From: bob@example.com\r\nTo: reply+abc123@example.com\r\nMessage-Id: <m1@example.com>\r\n\r\nThanks!\r\n\r\nOn Jan 1, 2020 at 3:45pm, Bob wrote:\r\n> old\r\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "process", path, "--reply-address", "reply+%{reply_key}@example.com")
	if err != nil {
		t.Fatalf("process error = %v", err)
	}

	var got struct {
		Outcome  model.Outcome `json:"outcome"`
		Body     string        `json:"body"`
		ReplyKey string        `json:"reply_key"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Outcome != model.OutcomeProcessed || got.Body != "Thanks!" || got.ReplyKey != "abc123" {
		t.Errorf("process output = %+v", got)
	}
}

func TestReplyKeyCommand(t *testing.T) {
	out, err := execute(t, "reply-key", "reply+abc123@example.com", "other@example.com", "--reply-address", "reply+%{reply_key}@example.com")
	if err != nil {
		t.Fatalf("reply-key error = %v", err)
	}
	want := "reply+abc123@example.com\tabc123\nother@example.com\t-\n"
	if out != want {
		t.Errorf("reply-key output = %q, want %q", out, want)
	}
}

func TestMboxReportCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "mbox-report", testArchive, "--report-dir", dir, "--skip-auto-replies")
	if err != nil {
		t.Fatalf("mbox-report error = %v", err)
	}
	if !strings.Contains(out, "Processed 3 messages (skipped 1 by filters") {
		t.Errorf("unexpected report:\n%s", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "report_outcome.csv"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	want := "Value,Count\nprocessed,2\nunprocessable,1\n"
	if string(data) != want {
		t.Errorf("report_outcome.csv = %q, want %q", data, want)
	}
}

func TestReportPrint(t *testing.T) {
	rep := newReport()
	rep.add(model.Result{Outcome: model.OutcomeProcessed, From: "bob@example.com", Subject: "Re: hi"})
	rep.add(model.Result{Outcome: model.OutcomeUnprocessable, Reason: "blank-body", From: "bob@example.com"})
	rep.skipped = 2

	var buf bytes.Buffer
	rep.print(&buf, nil, 5)
	out := buf.String()
	for _, want := range []string{
		"Processed 2 messages (skipped 2 by filters, 50.00%)",
		"Top 5 From:\n1. bob@example.com (2)",
		"Top 5 Reason:\n1. blank-body (1)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestReadInput(t *testing.T) {
	got, err := readInput("-", strings.NewReader("raw email"))
	if err != nil || string(got) != "raw email" {
		t.Errorf("readInput(stdin) = %q, %v", got, err)
	}
	if _, err := readInput(filepath.Join(t.TempDir(), "missing.eml"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOpenSink(t *testing.T) {
	sink, closeSink, err := openSink(config.Config{DryRun: true, Output: "ignored"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(*dispatch.DiscardSink); !ok {
		t.Errorf("dry run sink = %T", sink)
	}
	_ = closeSink()

	path := filepath.Join(t.TempDir(), "deliveries.jsonl")
	sink, closeSink, err = openSink(config.Config{Output: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Deliver(t.Context(), dispatch.Delivery{Kind: dispatch.KindReply, Body: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := closeSink(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"kind":"reply"`) {
		t.Errorf("deliveries = %s", data)
	}
}

func TestMboxCommandDryRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "receiver.db")
	if _, err := execute(t, "add-email-log", "abc123", "--topic", "7", "--user", "bob@example.com", "--database", db); err != nil {
		t.Fatalf("add-email-log error = %v", err)
	}

	if _, err := execute(t, "mbox", testArchive, "--dry-run", "--database", db, "--reply-address", "reply+%{reply_key}@example.com"); err != nil {
		t.Fatalf("mbox error = %v", err)
	}

	out, err := execute(t, "outcomes", "--database", db)
	if err != nil {
		t.Fatalf("outcomes error = %v", err)
	}
	if !strings.Contains(out, "total") || strings.Contains(out, "processed") {
		t.Errorf("outcomes after dry run:\n%s", out)
	}
}
