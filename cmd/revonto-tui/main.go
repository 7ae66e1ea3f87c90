package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/revonto/pkg/client"
	"github.com/rmax-ai/revonto/pkg/engine"
)

const (
	pollRate       = 5 * time.Second
	studyTimeout   = 2 * time.Minute
	viewportHeight = 20
	maxRows        = 200
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	productStyle = lipgloss.NewStyle().Width(24).Bold(true)
	countStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(16)
	pStyle       = lipgloss.NewStyle().Width(14)

	significantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // Green
	enrichedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")) // Blue
	purifiedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("99")) // Purple
)

// studyClient is the part of client.Client the TUI needs.
type studyClient interface {
	RunStudy(ctx context.Context, req client.StudyRequest) (*client.StudyResult, error)
	Population(ctx context.Context) (engine.Population, error)
}

type tickMsg time.Time

type populationMsg struct {
	population engine.Population
	err        error
}

type studyMsg struct {
	result *client.StudyResult
	err    error
}

type model struct {
	api      studyClient
	methods  []string
	alpha    float64
	spinner  spinner.Model
	input    textinput.Model
	viewport viewport.Model

	population engine.Population
	online     bool
	result     *client.StudyResult
	running    bool
	err        error
}

func initialModel(api studyClient, methods []string, alpha float64) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = "GO:0006915 GO:0008219 ..."
	ti.Prompt = "terms> "
	ti.CharLimit = 4096
	ti.Width = 90
	ti.Focus()

	vp := viewport.New(100, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	vp.SetContent(subtleStyle.Render("Enter GO terms and press enter to run a study."))

	return model{
		api:      api,
		methods:  methods,
		alpha:    alpha,
		spinner:  s,
		input:    ti,
		viewport: vp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		fetchPopulation(m.api),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			terms := splitTerms(m.input.Value())
			if m.running || len(terms) == 0 {
				return m, nil
			}
			m.running = true
			m.err = nil
			return m, runStudy(m.api, client.StudyRequest{Terms: terms, Methods: m.methods, Alpha: m.alpha})
		case "up", "down", "pgup", "pgdown":
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchPopulation(m.api), tick())

	case populationMsg:
		m.online = msg.err == nil
		if msg.err == nil {
			m.population = msg.population
		}

	case studyMsg:
		m.running = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.result = msg.result
			m.viewport.SetContent(renderRecords(msg.result))
			m.viewport.GotoTop()
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight

	default:
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	var top strings.Builder
	top.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Population") + "\n\n")
	if m.online {
		p := m.population
		top.WriteString(fmt.Sprintf("%d products • %d annotated terms • %d annotations • %d ontology terms",
			p.Products, p.Terms, p.Annotations, p.OntologyTerms))
		if p.Version != "" {
			top.WriteString(subtleStyle.Render(fmt.Sprintf("\nontology %s %s", p.Version, p.Date)))
		}
	} else {
		top.WriteString(subtleStyle.Render("Waiting for revonto-d."))
	}
	topPane := paneStyle.Render(top.String())

	title := "Study"
	if m.running {
		title = m.spinner.View() + " Running study"
	} else if m.result != nil {
		title = fmt.Sprintf("Study %s • %d records", m.result.StudyID, len(m.result.Records))
		if m.result.Cached {
			title += " (cached)"
		}
	}
	header := headerStyle.Render(title)

	var status string
	switch {
	case m.err != nil:
		status = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	case !m.online:
		status = errorStyle.Render("Offline")
	default:
		alpha, methods := m.alpha, m.methods
		if m.result != nil {
			alpha, methods = m.result.Alpha, m.result.Methods
		}
		status = okStyle.Render(fmt.Sprintf("Online • alpha %g • %s", alpha, methodLabel(methods)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nenter run • ↑/↓ scroll • esc quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, m.input.View(), header, m.viewport.View(), footer)
}

// renderRecords lists the study ordered by its primary correction. Rows
// significant at the study's alpha are highlighted.
func renderRecords(result *client.StudyResult) string {
	if result == nil || len(result.Records) == 0 {
		return subtleStyle.Render("No product is annotated with these terms.")
	}

	method := engine.Uncorrected
	if len(result.Methods) > 0 {
		method = result.Methods[0]
	}
	records := append([]*engine.Record(nil), result.Records...)
	engine.SortByPValue(records, method)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s%s%s%s%s\n",
		productStyle.Render("product"),
		countStyle.Render("study"),
		countStyle.Render("population"),
		pStyle.Render("p"),
		pStyle.Render("p_"+method),
	))
	for i, r := range records {
		if i == maxRows {
			sb.WriteString(subtleStyle.Render(fmt.Sprintf("... %d more", len(records)-maxRows)))
			break
		}
		corrected := "-"
		if p, ok := r.PValue(method); ok {
			corrected = fmt.Sprintf("%.3g", p)
		}
		marker := enrichedStyle.Render(r.Enrichment)
		if r.Enrichment == engine.Purified {
			marker = purifiedStyle.Render(r.Enrichment)
		}
		line := fmt.Sprintf("%s%s%s%s%s %s",
			productStyle.Render(r.ProductID),
			countStyle.Render(fmt.Sprintf("%d/%d", r.StudyCount, r.StudyN)),
			countStyle.Render(fmt.Sprintf("%d/%d", r.PopCount, r.PopN)),
			pStyle.Render(fmt.Sprintf("%.3g", r.PUncorrected)),
			pStyle.Render(corrected),
			marker,
		)
		if r.Significant(method, result.Alpha) {
			line = significantStyle.Render(line)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func methodLabel(methods []string) string {
	if len(methods) == 0 {
		return "daemon defaults"
	}
	return strings.Join(methods, ",")
}

func splitTerms(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
}

// Commands

func fetchPopulation(api studyClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p, err := api.Population(ctx)
		return populationMsg{population: p, err: err}
	}
}

func runStudy(api studyClient, req client.StudyRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), studyTimeout)
		defer cancel()
		result, err := api.RunStudy(ctx, req)
		return studyMsg{result: result, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	endpoint := flag.String("endpoint", envOr("REVONTO_ENDPOINT", client.DefaultEndpoint), "revonto-d base URL")
	methods := flag.String("methods", "", "comma separated corrections (default: daemon's)")
	alpha := flag.Float64("alpha", 0, "significance threshold (default: daemon's)")
	flag.Parse()

	api := client.NewClient(*endpoint)
	p := tea.NewProgram(initialModel(api, splitTerms(*methods), *alpha), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
