package us

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestImportStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "us", stateFile)

	st, err := loadImportState(path)
	if err != nil {
		t.Fatal(err)
	}
	st.reset("2025-02-10")
	st.markEmpty([]string{"ZZZZ", "XXXX"})
	if err := st.save(); err != nil {
		t.Fatal(err)
	}

	st2, err := loadImportState(path)
	if err != nil {
		t.Fatal(err)
	}
	if st2.Session != "2025-02-10" {
		t.Errorf("Session = %q, want 2025-02-10", st2.Session)
	}
	if !st2.isEmpty("XXXX") || !st2.isEmpty("ZZZZ") || st2.isEmpty("AAPL") {
		t.Errorf("empty set = %v", st2.Empty)
	}
	if got := st2.pending([]string{"AAPL", "XXXX", "MSFT"}); !reflect.DeepEqual(got, []string{"AAPL", "MSFT"}) {
		t.Errorf("pending = %v, want [AAPL MSFT]", got)
	}
}

func TestImportStateReset(t *testing.T) {
	st, err := loadImportState(filepath.Join(t.TempDir(), stateFile))
	if err != nil {
		t.Fatal(err)
	}
	st.reset("2025-02-10")
	st.markEmpty([]string{"AAAA"})
	st.reset("2025-02-11")
	if st.isEmpty("AAAA") {
		t.Error("AAAA should not be empty after reset")
	}
}

func TestImportStateCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), stateFile)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadImportState(path); err == nil {
		t.Error("loadImportState(corrupt) returned nil error")
	}
}
