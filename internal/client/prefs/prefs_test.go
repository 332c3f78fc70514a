package prefs

import (
	"path/filepath"
	"testing"
)

func TestPrefsRoundTripOnSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "prefs.db")
	backend, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	s := New(backend, "app")

	if err := s.SetToken(" tok "); err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}
	if err := s.SetTheme(ThemeDark); err != nil {
		t.Fatalf("SetTheme() error = %v", err)
	}
	if err := s.SetCopilotThreadID("t-1"); err != nil {
		t.Fatalf("SetCopilotThreadID() error = %v", err)
	}
	backend.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	s = New(reopened, "app")
	if got := s.Token(); got != "tok" {
		t.Fatalf("Token() = %q", got)
	}
	if got := s.Theme(ThemeLight); got != ThemeDark {
		t.Fatalf("Theme() = %q", got)
	}
	if got := s.CopilotThreadID(); got != "t-1" {
		t.Fatalf("CopilotThreadID() = %q", got)
	}

	if got := New(reopened, "other").Token(); got != "" {
		t.Fatalf("namespaces leak: %q", got)
	}

	if err := s.SetToken(""); err != nil {
		t.Fatalf("SetToken(\"\") error = %v", err)
	}
	if got := s.Token(); got != "" {
		t.Fatalf("Token() after clear = %q", got)
	}
}

func TestCorruptValuesFailClosed(t *testing.T) {
	mem := NewMemory()
	s := New(mem, "")
	_ = mem.Set(KeyInputHistory, "{not json")
	_ = mem.Set(KeyThemeVariant, "sepia")

	if got := s.History(); got != nil {
		t.Fatalf("History() = %v, want nil", got)
	}
	if _, err := mem.Get(KeyInputHistory); err != ErrNotFound {
		t.Fatalf("corrupt history not removed, err = %v", err)
	}
	if got := s.Theme(ThemeLight); got != ThemeLight {
		t.Fatalf("Theme() = %q, want fallback", got)
	}
	if _, err := mem.Get(KeyThemeVariant); err != ErrNotFound {
		t.Fatalf("corrupt theme not removed")
	}

	// Other keys are unaffected by one corrupt key.
	_ = s.SetToken("ok")
	_ = mem.Set(KeyInputHistory, "[1,2")
	_ = s.History()
	if s.Token() != "ok" {
		t.Fatalf("token lost after history reset")
	}
}

func TestPushHistoryCapsAndDedupes(t *testing.T) {
	s := New(nil, "")
	for _, e := range []string{"a", "b", "b", " ", "c", "d"} {
		if _, err := s.PushHistory(e, 3); err != nil {
			t.Fatalf("PushHistory(%q) error = %v", e, err)
		}
	}
	got := s.History()
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("History() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("History() = %v, want %v", got, want)
		}
	}
}
