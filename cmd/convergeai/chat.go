// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"convergeai/internal/types"
)

var (
	chatUser    int64
	chatChannel string
	chatTrace   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation against the local pipeline",
	Long: `Opens an interactive terminal session wired to the same coordinator the
HTTP API uses. Enter sends a message, Ctrl+C exits. With --trace (or /trace
at runtime), each reply also prints the classified intent, workflow flag,
and turn latency.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().Int64Var(&chatUser, "user", 1, "Acting user ref")
	chatCmd.Flags().StringVar(&chatChannel, "channel", "web", "Session channel (web, mobile, whatsapp, voice)")
	chatCmd.Flags().BoolVar(&chatTrace, "trace", false, "Print intent and latency after each reply")
}

// turnTimeout bounds one chat turn; the coordinator applies its own budget
// underneath, this is just the UI giving up.
const turnTimeout = time.Minute

// Styles for the chat view.
var (
	chatUserStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	chatBotStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	chatMetaStyle   = lipgloss.NewStyle().Faint(true)
	chatErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
	chatHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#101F38")).Background(lipgloss.Color("#8BC34A")).Padding(0, 1)
	chatReadyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	chatBusyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
)

// chatModel is the main model for the interactive chat interface.
type chatModel struct {
	// UI components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model

	// State
	history   []chatMessage
	isLoading bool
	err       error
	width     int
	height    int
	ready     bool
	showTrace bool

	// Session state
	sessionID string
	turnCount int

	// Backend
	app     *app
	userRef int64
	channel types.Channel
}

type chatMessage struct {
	role    string // "user" or "assistant"
	content string
	meta    string // trace line, rendered under assistant replies
	time    time.Time
}

// Messages for tea updates
type (
	turnDoneMsg struct {
		resp *types.TurnResponse
		err  error
	}
	turnErrMsg error
)

// initChatModel initializes the interactive chat model.
func initChatModel(a *app) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about a service, a booking, or a policy... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = types.MaxTurnTextLen
	ti.Width = 80
	ti.PromptStyle = chatUserStyle
	ti.TextStyle = lipgloss.NewStyle()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = chatBusyStyle

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return chatModel{
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		history:   []chatMessage{},
		showTrace: chatTrace,
		app:       a,
		userRef:   chatUser,
		channel:   types.Channel(chatChannel),
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}

		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 2
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4
		m.viewport.SetContent(m.renderHistory())

	case spinner.TickMsg:
		if m.isLoading {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case turnDoneMsg:
		m.isLoading = false
		m.turnCount++
		m.sessionID = msg.resp.SessionID

		reply := chatMessage{
			role:    "assistant",
			content: msg.resp.ReplyText,
			time:    time.Now(),
		}
		if m.showTrace {
			reply.meta = fmt.Sprintf("intent=%s workflow=%v latency=%dms session=%s",
				orDash(msg.resp.Intent), msg.resp.WorkflowActive, msg.resp.LatencyMs, msg.resp.SessionID)
		}
		// A transient upstream failure still carries the persisted apology
		// reply; surface the retryable hint under it.
		if msg.err != nil {
			reply.meta = strings.TrimSpace(reply.meta + "  (upstream trouble, worth retrying)")
		}
		m.history = append(m.history, reply)
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()

	case turnErrMsg:
		m.isLoading = false
		m.err = msg
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	m.history = append(m.history, chatMessage{
		role:    "user",
		content: input,
		time:    time.Now(),
	})
	m.textinput.Reset()
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	m.err = nil
	m.isLoading = true

	return m, tea.Batch(
		m.spinner.Tick,
		m.processInput(input),
	)
}

func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	switch strings.Fields(input)[0] {
	case "/quit", "/exit", "/q":
		return m, tea.Quit

	case "/clear":
		m.history = []chatMessage{}
		m.sessionID = ""
		m.turnCount = 0
		m.viewport.SetContent("")
		m.textinput.Reset()
		return m, nil

	case "/trace":
		m.showTrace = !m.showTrace
		m.textinput.Reset()
		return m, nil

	case "/help":
		m.history = append(m.history, chatMessage{
			role: "assistant",
			content: "Commands:\n" +
				"  /help   show this message\n" +
				"  /clear  clear the transcript and start a fresh session\n" +
				"  /trace  toggle intent and latency traces\n" +
				"  /quit   exit",
			time: time.Now(),
		})
		m.textinput.Reset()
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil

	default:
		m.err = fmt.Errorf("unknown command %s (try /help)", input)
		m.textinput.Reset()
		return m, nil
	}
}

// processInput runs one turn against the coordinator in the background.
func (m chatModel) processInput(input string) tea.Cmd {
	sessionID := m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		defer cancel()

		resp, err := m.app.coord.HandleTurn(ctx, types.TurnRequest{
			SessionID: sessionID,
			UserRef:   m.userRef,
			Text:      input,
			Channel:   m.channel,
		})
		if resp == nil {
			return turnErrMsg(err)
		}
		return turnDoneMsg{resp: resp, err: err}
	}
}

func (m chatModel) renderHistory() string {
	var sb strings.Builder

	for _, msg := range m.history {
		if msg.role == "user" {
			sb.WriteString(chatUserStyle.Render("You") + "\n")
			sb.WriteString(msg.content)
			sb.WriteString("\n\n")
			continue
		}
		sb.WriteString(chatBotStyle.Render("convergeai") + "\n")
		sb.WriteString(msg.content)
		sb.WriteString("\n")
		if msg.meta != "" {
			sb.WriteString(chatMetaStyle.Render(msg.meta))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	chatView := m.viewport.View()
	if m.isLoading {
		chatView += "\n" + m.spinner.View() + chatMetaStyle.Render(" Thinking...")
	}
	if m.err != nil {
		chatView += "\n" + chatErrorStyle.Render("Error: "+m.err.Error())
	}

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#2196F3")).
		Padding(0, 1)
	inputArea := inputStyle.Render(m.textinput.View())

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		chatView,
		inputArea,
		m.renderFooter(),
	)
}

func (m chatModel) renderHeader() string {
	title := chatHeaderStyle.Render(" ConvergeAI ")
	version := chatMetaStyle.Render("v" + appVersion)
	who := chatMetaStyle.Render(fmt.Sprintf("user %d · %s", m.userRef, m.channel))

	var status string
	if m.isLoading {
		status = chatBusyStyle.Render("● Processing")
	} else {
		status = chatReadyStyle.Render("● Ready")
	}

	headerLine := lipgloss.JoinHorizontal(
		lipgloss.Center,
		title, " ", version, "  ", status, "  ", who,
	)
	divider := chatMetaStyle.Render(strings.Repeat("─", max(0, m.width)))
	return lipgloss.JoinVertical(lipgloss.Left, headerLine, divider)
}

func (m chatModel) renderFooter() string {
	session := "new session"
	if m.sessionID != "" {
		session = fmt.Sprintf("%s · %d turns", m.sessionID, m.turnCount)
	}
	help := chatMetaStyle.Render(fmt.Sprintf("%s • Enter: send • /help: commands • Ctrl+C: exit", session))
	return lipgloss.NewStyle().MarginTop(1).Render(help)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	p := tea.NewProgram(
		initChatModel(a),
		tea.WithAltScreen(),
	)
	_, err = p.Run()
	return err
}
