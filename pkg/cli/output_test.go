package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func sampleTable() *Table {
	return &Table{
		Headers: []string{"PERIOD", "USED", "LIMIT"},
		Rows: [][]string{
			{"2026-01-01", "3", "10"},
			{"2026-01-02", "10", "10"},
		},
	}
}

func TestTextFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, "test message"); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if buf.String() != "test message\n" {
		t.Errorf("Expected plain message, got %q", buf.String())
	}
}

func TestTextFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "PERIOD") {
		t.Errorf("Expected header first, got %q", lines[0])
	}
	if strings.Index(lines[1], "3") != strings.Index(lines[0], "USED") {
		t.Errorf("Expected aligned columns, got %q", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	tests := []struct {
		name   string
		data   any
		indent bool
	}{
		{"simple string", "test", false},
		{"map with indent", map[string]string{"key": "value"}, true},
		{"struct", struct{ Name string }{"test"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if err := (&JSONFormatter{Indent: tt.indent}).FormatTo(buf, tt.data); err != nil {
				t.Fatalf("FormatTo() error = %v", err)
			}
			if !json.Valid(buf.Bytes()) {
				t.Errorf("Expected valid JSON, got %q", buf.String())
			}
		})
	}
}

func TestJSONFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&JSONFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var records []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
		t.Fatalf("Expected JSON records, got %q: %v", buf.String(), err)
	}
	if len(records) != 2 || records[1]["USED"] != "10" {
		t.Errorf("Unexpected records %v", records)
	}

	table := sampleTable()
	table.Data = []int{1, 2}
	buf.Reset()
	(&JSONFormatter{}).FormatTo(buf, table)
	if strings.TrimSpace(buf.String()) != "[1,2]" {
		t.Errorf("Expected Data to be encoded, got %q", buf.String())
	}
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&CSVFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	expected := "PERIOD,USED,LIMIT\n2026-01-01,3,10\n2026-01-02,10,10\n"
	if buf.String() != expected {
		t.Errorf("Expected %q, got %q", expected, buf.String())
	}

	if err := (&CSVFormatter{}).FormatTo(buf, "not a table"); err == nil {
		t.Error("Expected error for non-tabular data")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatText, "*cli.TextFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{FormatCSV, "*cli.CSVFormatter"},
		{"unknown", "*cli.TextFormatter"},
	}

	for _, tt := range tests {
		got := typeName(NewFormatter(tt.format))
		if got != tt.want {
			t.Errorf("NewFormatter(%q): expected %s, got %s", tt.format, tt.want, got)
		}
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatText, "JSON": FormatJSON, "csv": FormatCSV} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q): expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseOutputFormat("junit"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
