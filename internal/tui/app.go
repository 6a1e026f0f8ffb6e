// Package tui renders the conversation engine's view in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/dmchat/internal/model/chat"
	"github.com/zhouzirui/dmchat/internal/service/conversation"
)

const (
	defaultWidth  = 100
	defaultHeight = 30
	sidebarWidth  = 30
	chromeLines   = 8
	opTimeout     = 15 * time.Second
)

const helpText = "tab switch · enter submit · ctrl+n/p select · ctrl+o open · ctrl+r refresh · ctrl+l logout · ctrl+c quit"

// Engine is the subset of the conversation engine the UI drives.
type Engine interface {
	View() conversation.View
	ResolveAndConnect(ctx context.Context, email string) error
	OpenConversation(ctx context.Context, summary chat.ConversationSummary) error
	Connect(ctx context.Context) error
	RefreshRecent(ctx context.Context) error
	SetDraft(text string)
	Send() error
	Logout() error
}

// AppConfig configures the root BubbleTea model.
type AppConfig struct {
	Engine    Engine
	ThemeName string
	// Peer prefills the peer field.
	Peer string
}

type focusField int

const (
	focusPeer focusField = iota
	focusDraft
)

type opKind string

const (
	opOpen   opKind = "open"
	opSend   opKind = "send"
	opRecent opKind = "recent"
	opLogout opKind = "logout"
)

type opDoneMsg struct {
	op  opKind
	err error
}

// App is the root TUI model. Engine calls run inside commands because the
// engine notifies through Program.Send, which blocks while Update runs.
type App struct {
	engine Engine
	theme  Theme

	width  int
	height int

	view     conversation.View
	focus    focusField
	selected int
	notice   string

	peerInput  textinput.Model
	draftInput textinput.Model
	chat       viewport.Model
}

// NewApp constructs the root model from the engine's current view.
func NewApp(cfg AppConfig) *App {
	peer := textinput.New()
	peer.Prompt = "to: "
	peer.Placeholder = "peer email"
	peer.CharLimit = 254
	peer.SetValue(strings.TrimSpace(cfg.Peer))
	peer.Focus()

	draft := textinput.New()
	draft.Prompt = "> "
	draft.Placeholder = "Type a message and press Enter"
	draft.CharLimit = 4000

	m := &App{
		engine:     cfg.Engine,
		theme:      ResolveTheme(cfg.ThemeName),
		width:      defaultWidth,
		height:     defaultHeight,
		view:       cfg.Engine.View(),
		peerInput:  peer,
		draftInput: draft,
		chat:       viewport.New(defaultWidth-sidebarWidth-4, defaultHeight-chromeLines),
	}
	m.layout()
	m.renderChat()
	return m
}

// Init loads the recency list.
func (m *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.refreshRecent())
}

// Update applies engine snapshots and key input.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.renderChat()
		return m, nil

	case ViewMsg:
		if msg.View.Version < m.view.Version {
			return m, nil
		}
		m.applyView(msg.View)
		return m, nil

	case ScrollMsg:
		if msg.PeerID == m.view.OpenPeer.ID {
			m.chat.GotoBottom()
		}
		return m, nil

	case opDoneMsg:
		m.handleOpDone(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, m.updateFocused(msg)
}

func (m *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "tab", "shift+tab":
		m.toggleFocus()
		return m, nil
	case "enter":
		return m, m.submit()
	case "ctrl+r":
		return m, m.refreshRecent()
	case "ctrl+n":
		if m.selected < len(m.view.Recent)-1 {
			m.selected++
		}
		return m, nil
	case "ctrl+p":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil
	case "ctrl+o":
		return m, m.openSelected()
	case "ctrl+l":
		return m, m.logout()
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}
	return m, m.updateFocused(msg)
}

func (m *App) updateFocused(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	if m.focus == focusPeer {
		m.peerInput, cmd = m.peerInput.Update(msg)
	} else {
		m.draftInput, cmd = m.draftInput.Update(msg)
	}
	return cmd
}

func (m *App) toggleFocus() {
	if m.focus == focusPeer {
		m.setFocus(focusDraft)
	} else {
		m.setFocus(focusPeer)
	}
}

func (m *App) setFocus(f focusField) {
	m.focus = f
	if f == focusPeer {
		m.draftInput.Blur()
		m.peerInput.Focus()
		return
	}
	m.peerInput.Blur()
	m.draftInput.Focus()
}

func (m *App) submit() tea.Cmd {
	engine := m.engine
	if m.focus == focusPeer {
		email := strings.TrimSpace(m.peerInput.Value())
		if email == "" {
			return nil
		}
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			return opDoneMsg{op: opOpen, err: engine.ResolveAndConnect(ctx, email)}
		}
	}

	draft := m.draftInput.Value()
	return func() tea.Msg {
		engine.SetDraft(draft)
		return opDoneMsg{op: opSend, err: engine.Send()}
	}
}

func (m *App) openSelected() tea.Cmd {
	if m.selected < 0 || m.selected >= len(m.view.Recent) {
		return nil
	}
	engine := m.engine
	summary := m.view.Recent[m.selected]
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		err := engine.OpenConversation(ctx, summary)
		if err == nil && !engine.View().ConnectionOpen {
			err = engine.Connect(ctx)
		}
		return opDoneMsg{op: opOpen, err: err}
	}
}

func (m *App) refreshRecent() tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opDoneMsg{op: opRecent, err: engine.RefreshRecent(ctx)}
	}
}

func (m *App) logout() tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		return opDoneMsg{op: opLogout, err: engine.Logout()}
	}
}

func (m *App) handleOpDone(msg opDoneMsg) {
	if msg.err != nil {
		switch {
		case msg.op == opRecent:
			m.notice = "Unable to load recent conversations"
		case conversation.CodeOf(msg.err) == conversation.CodeSelf:
			m.peerInput.Reset()
		}
		return
	}

	switch msg.op {
	case opOpen:
		m.setFocus(focusDraft)
	case opSend:
		m.draftInput.Reset()
	case opRecent:
		m.notice = ""
	case opLogout:
		m.peerInput.Reset()
		m.draftInput.Reset()
		m.setFocus(focusPeer)
	}
}

func (m *App) applyView(v conversation.View) {
	peerChanged := v.OpenPeer.ID != m.view.OpenPeer.ID
	m.view = v
	if m.selected >= len(v.Recent) {
		m.selected = max(len(v.Recent)-1, 0)
	}
	m.renderChat()
	if peerChanged {
		m.chat.GotoBottom()
	}
}

func (m *App) layout() {
	width := m.width - sidebarWidth - 4
	if width < 20 {
		width = 20
	}
	height := m.height - chromeLines
	if height < 3 {
		height = 3
	}
	m.chat.Width = width
	m.chat.Height = height
	m.peerInput.Width = m.width - 8
	m.draftInput.Width = m.width - 8
}

func (m *App) renderChat() {
	if m.view.OpenPeer.ID == "" {
		m.chat.SetContent(m.theme.MutedStyle.Render("Choose a user (email or recent)"))
		return
	}
	if len(m.view.Messages) == 0 {
		m.chat.SetContent(m.theme.MutedStyle.Render("No messages yet."))
		return
	}

	peerName := m.view.OpenPeer.Label
	if peerName == "" {
		peerName = m.view.OpenPeer.ID
	}

	lines := make([]string, 0, len(m.view.Messages))
	for _, msg := range m.view.Messages {
		prefix := m.theme.PeerPrefixStyle.Render(peerName + ":")
		if msg.SenderID == m.view.Me {
			prefix = m.theme.OwnPrefixStyle.Render("you:")
		}
		stamp := m.theme.TimestampStyle.Render(msg.Timestamp.Local().Format("15:04"))
		lines = append(lines, stamp+" "+prefix+" "+msg.Body)
	}
	m.chat.SetContent(strings.Join(lines, "\n"))
}

// View renders status bar, sidebar, chat pane, inputs and footer.
func (m *App) View() string {
	status := m.renderStatus()
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), m.renderChatPanel())
	inputs := strings.Join([]string{
		m.fieldLabel(focusPeer).Render(m.peerInput.View()),
		m.fieldLabel(focusDraft).Render(m.draftInput.View()),
	}, "\n")
	return strings.Join([]string{status, body, inputs, m.renderFooter()}, "\n")
}

func (m *App) renderStatus() string {
	me := fallbackText(m.view.Me, "signed out")
	with := fallbackText(m.view.OpenPeer.Label, fallbackText(m.view.OpenPeer.ID, "nobody"))
	live := "closed"
	if m.view.ConnectionOpen {
		live = "open"
	}
	line := strings.Join([]string{"dmchat", "me: " + me, "with: " + with, "live: " + live}, " | ")
	return m.theme.StatusBarStyle.Width(m.width).Render(line)
}

func (m *App) renderSidebar() string {
	lines := []string{m.theme.FocusedLabel.Render("Recent")}
	if len(m.view.Recent) == 0 {
		lines = append(lines, m.theme.MutedStyle.Render("No conversations"))
	}
	for i, summary := range m.view.Recent {
		name := truncate(summary.DisplayName(), sidebarWidth-12)
		row := chat.Initials(name) + " " + name
		style := m.theme.UnselectedStyle
		marker := "  "
		if i == m.selected {
			style = m.theme.SelectedStyle
			marker = "> "
		}
		row = marker + style.Render(row)
		if n := m.view.Unread[summary.OtherID]; n > 0 {
			row += " " + m.theme.UnreadStyle.Render(fmt.Sprintf("%d", n))
		}
		lines = append(lines, row)
	}
	return m.theme.SidebarStyle.
		Width(sidebarWidth).
		Height(m.chat.Height + 1).
		Render(strings.Join(lines, "\n"))
}

func (m *App) renderChatPanel() string {
	header := m.theme.FocusedLabel.Render(fallbackText(m.view.OpenPeer.Label, "Conversation"))
	return m.theme.ChatStyle.
		Width(m.chat.Width).
		Render(header + "\n" + m.chat.View())
}

func (m *App) renderFooter() string {
	var line string
	switch {
	case m.view.Err != nil:
		line = m.theme.ErrorStyle.Render(errorText(m.view.Err))
	case m.notice != "":
		line = m.theme.ErrorStyle.Render(m.notice)
	}
	return line + "\n" + m.theme.MutedStyle.Render(helpText)
}

func (m *App) fieldLabel(f focusField) lipgloss.Style {
	if m.focus == f {
		return m.theme.FocusedLabel
	}
	return m.theme.BlurredLabel
}

// errorText shows the classified message without transport detail.
func errorText(err error) string {
	var classified *conversation.Error
	if errors.As(err, &classified) {
		return classified.Message
	}
	return err.Error()
}

func fallbackText(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
