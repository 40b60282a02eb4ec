// Package tui holds the interactive terminal views of the hilite CLI.
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hilite/internal/lexer"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

type item struct {
	lexer lexer.Lexer
}

func (i item) Title() string { return i.lexer.Name }

func (i item) Description() string {
	var parts []string
	if len(i.lexer.Aliases) > 0 {
		parts = append(parts, strings.Join(i.lexer.Aliases, ", "))
	}
	if len(i.lexer.Filenames) > 0 {
		parts = append(parts, strings.Join(i.lexer.Filenames, " "))
	}
	return strings.Join(parts, " | ")
}

func (i item) FilterValue() string {
	return i.lexer.Name + " " + strings.Join(i.lexer.Aliases, " ")
}

// Browser is a filterable list of lexers. Enter picks the highlighted lexer.
type Browser struct {
	list     list.Model
	choice   *lexer.Lexer
	quitting bool
}

// NewBrowser returns a Browser over lexers in the given order.
func NewBrowser(lexers []lexer.Lexer) Browser {
	items := make([]list.Item, 0, len(lexers))
	for _, l := range lexers {
		items = append(items, item{lexer: l})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = fmt.Sprintf("Lexers (%d) / to filter, Enter to select", len(lexers))
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return Browser{list: l}
}

// Selected returns the chosen lexer once the browser has finished.
func (b Browser) Selected() (lexer.Lexer, bool) {
	if b.choice == nil {
		return lexer.Lexer{}, false
	}
	return *b.choice, true
}

func (b Browser) Init() tea.Cmd {
	return nil
}

func (b Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		// Keys go to the filter input while it is being edited.
		if b.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			b.quitting = true
			return b, tea.Quit

		case "enter":
			if it, ok := b.list.SelectedItem().(item); ok {
				chosen := it.lexer
				b.choice = &chosen
			}
			return b, tea.Quit
		}
	}

	var cmd tea.Cmd
	b.list, cmd = b.list.Update(msg)
	return b, cmd
}

func (b Browser) View() string {
	if b.quitting {
		return quitTextStyle.Render("Cancelled.")
	}
	if b.choice != nil {
		return quitTextStyle.Render(fmt.Sprintf("Selected lexer: %s (%s)", b.choice.Name, b.choice.Alias()))
	}
	return "\n" + b.list.View()
}

// BrowseLexers runs the browser on the terminal attached to in and out and
// returns the lexer the user picked. ok is false when the user quit.
func BrowseLexers(lexers []lexer.Lexer, in io.Reader, out io.Writer) (lexer.Lexer, bool, error) {
	p := tea.NewProgram(NewBrowser(lexers), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return lexer.Lexer{}, false, fmt.Errorf("lexer browser: %w", err)
	}
	chosen, ok := final.(Browser).Selected()
	return chosen, ok, nil
}
