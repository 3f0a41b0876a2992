package tui

import (
	"cmp"
	"os"
	"path/filepath"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

const pickerRows = 12

type fileItem struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// picker is the /browse attachment chooser.
type picker struct {
	dir      string
	items    []fileItem
	selected int
}

var (
	pickerSelectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	pickerItemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// readDir lists dir with a ".." entry first, then directories, then files.
// Hidden entries are skipped.
func readDir(dir string) ([]fileItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	items := make([]fileItem, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		item := fileItem{Name: entry.Name(), Path: filepath.Join(dir, entry.Name()), IsDir: entry.IsDir()}
		if !item.IsDir {
			if info, err := entry.Info(); err == nil {
				item.Size = info.Size()
			}
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b fileItem) int {
		if a.IsDir != b.IsDir {
			if a.IsDir {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if parent := filepath.Dir(dir); parent != dir {
		items = append([]fileItem{{Name: "..", Path: parent, IsDir: true}}, items...)
	}
	return items, nil
}

// defaultBrowseDir prefers ~/Documents, then ~/Downloads, then home.
func defaultBrowseDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		for _, sub := range []string{"Documents", "Downloads"} {
			candidate := filepath.Join(home, sub)
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				return candidate
			}
		}
		return home
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func (m *Model) openPicker(dir string) tea.Cmd {
	if dir == "" {
		dir = defaultBrowseDir()
	}
	dir, err := filepath.Abs(expandHome(dir))
	if err != nil {
		return m.showToast(err.Error(), true)
	}
	items, err := readDir(dir)
	if err != nil {
		return m.showToast("cannot browse "+dir+": "+err.Error(), true)
	}
	m.picker = &picker{dir: dir, items: items}
	return nil
}

func (m *Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := m.picker
	switch msg.Type {
	case tea.KeyEsc:
		m.picker = nil
	case tea.KeyUp:
		if p.selected > 0 {
			p.selected--
		}
	case tea.KeyDown:
		if p.selected < len(p.items)-1 {
			p.selected++
		}
	case tea.KeyEnter:
		if len(p.items) == 0 {
			return m, nil
		}
		item := p.items[p.selected]
		if item.IsDir {
			return m, m.openPicker(item.Path)
		}
		m.attachments = append(m.attachments, item.Path)
		m.picker = nil
	}
	return m, nil
}

func (m *Model) renderPicker() string {
	p := m.picker
	lines := []string{appTitleStyle.Render("Attach a file"), menuHintStyle.Render(p.dir)}

	start := 0
	if p.selected >= pickerRows {
		start = p.selected - pickerRows + 1
	}
	end := min(start+pickerRows, len(p.items))
	var rows []string
	for i := start; i < end; i++ {
		item := p.items[i]
		label := item.Name
		if item.IsDir {
			label += "/"
		} else {
			label += "  " + timestampStyle.Render(humanize.Bytes(uint64(item.Size)))
		}
		if i == p.selected {
			rows = append(rows, pickerSelectedStyle.Render("➤ "+label))
		} else {
			rows = append(rows, pickerItemStyle.Render("  "+label))
		}
	}
	if len(rows) == 0 {
		rows = append(rows, menuHintStyle.Render("Empty directory."))
	}
	lines = append(lines,
		noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)),
		menuHintStyle.Render("↑/↓ select • Enter open or attach • Esc back"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
