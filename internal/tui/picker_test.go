package tui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestReadDirOrdersEntries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "zdir"), 0o700); err != nil {
		t.Fatal(err)
	}

	items, err := readDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, item := range items {
		names = append(names, item.Name)
	}
	if got := strings.Join(names, ","); got != "..,zdir,a.txt,b.txt" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestBrowseNavigatesAndAttaches(t *testing.T) {
	session := &fakeSession{}
	model, _ := newTestModel(t, session)
	enterChat(t, model, "channel:1")

	dir := t.TempDir()
	sub := filepath.Join(dir, "docs")
	if err := os.Mkdir(sub, 0o700); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(sub, "notes.txt")
	if err := os.WriteFile(file, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	typeLine(model, "/browse "+dir)
	if model.picker == nil {
		t.Fatalf("picker not opened, toast %q", model.toast)
	}
	if !strings.Contains(model.View(), "docs/") {
		t.Fatal("directory not listed")
	}

	// ".." then "docs"
	model.Update(tea.KeyMsg{Type: tea.KeyDown})
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if model.picker == nil || model.picker.dir != sub {
		t.Fatalf("expected to be in %s", sub)
	}

	model.Update(tea.KeyMsg{Type: tea.KeyDown})
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if model.picker != nil {
		t.Fatal("picker should close after choosing a file")
	}
	if len(model.attachments) != 1 || model.attachments[0] != file {
		t.Fatalf("unexpected attachments %v", model.attachments)
	}
}

func TestBrowseEscapeReturnsToChat(t *testing.T) {
	model, _ := newTestModel(t, &fakeSession{})
	enterChat(t, model, "channel:1")

	typeLine(model, "/browse "+t.TempDir())
	model.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if model.picker != nil || model.mode != modeChat {
		t.Fatal("escape should close the picker and stay in the room")
	}
}
