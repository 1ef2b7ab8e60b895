package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadCSVCleansAndDropsRows(t *testing.T) {
	path := writeCSV(t,
		"Idea Number,Status,Title,Cause,Solution\n"+
			"  I-1 , resolved ,  Leak at seal , Worn gasket , Replace gasket \n"+
			"I-2,resolved,,Missing title,Drop me\n"+
			"I-3,open,Jam in feeder,Misaligned guide,Realign guide\n")

	rows, dropped, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].IdeaNumber != "I-1" || rows[0].Title != "Leak at seal" ||
		rows[0].Cause != "Worn gasket" || rows[0].Solution != "Replace gasket" {
		t.Errorf("first row not trimmed correctly: %+v", rows[0])
	}
	if rows[1].IdeaNumber != "I-3" {
		t.Errorf("second row = %+v, want I-3", rows[1])
	}
}

func TestLoadCSVHeaderNormalization(t *testing.T) {
	// Underscores, spaces and case in headers are tolerated.
	path := writeCSV(t,
		"idea_number,STATUS,title, Cause ,solution\n"+
			"I-1,open,T,C,S\n")

	rows, _, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "T" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestLoadCSVMissingColumns(t *testing.T) {
	path := writeCSV(t, "Idea Number,Status,Title\nI-1,open,T\n")

	_, _, err := LoadCSV(path)
	if !errors.Is(err, ErrMissingColumns) {
		t.Errorf("err = %v, want ErrMissingColumns", err)
	}
}

func TestLoadCSVEmpty(t *testing.T) {
	path := writeCSV(t, "Idea Number,Status,Title,Cause,Solution\n")

	_, _, err := LoadCSV(path)
	if !errors.Is(err, ErrEmptySource) {
		t.Errorf("err = %v, want ErrEmptySource", err)
	}
}

func TestLoadCSVShortRowDropped(t *testing.T) {
	// A row with fewer cells than the header is incomplete, not fatal.
	path := writeCSV(t,
		"Idea Number,Status,Title,Cause,Solution\n"+
			"I-1,open\n"+
			"I-2,open,T,C,S\n")

	rows, dropped, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}
	if dropped != 1 || len(rows) != 1 {
		t.Errorf("rows = %d, dropped = %d, want 1 and 1", len(rows), dropped)
	}
}

func TestLoadSourceDispatch(t *testing.T) {
	path := writeCSV(t,
		"Idea Number,Status,Title,Cause,Solution\n"+
			"I-1,open,T,C,S\n")

	rows, _, err := LoadSource(path)
	if err != nil {
		t.Fatalf("LoadSource failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d rows, want 1", len(rows))
	}
}
