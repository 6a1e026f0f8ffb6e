package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/dmchat/internal/service/conversation"
)

// ViewMsg carries an engine snapshot into the program.
type ViewMsg struct {
	View conversation.View
}

// ScrollMsg asks the chat pane to jump to the newest message.
type ScrollMsg struct {
	PeerID string
}

// Bridge forwards engine notifications to a running tea.Program. It must be
// passed to the engine before the program exists; notifications arriving
// before SetProgram are dropped, and the next view replaces them anyway.
type Bridge struct {
	program atomic.Pointer[tea.Program]
}

// NewBridge returns a listener with no program attached.
func NewBridge() *Bridge {
	return &Bridge{}
}

// SetProgram enables delivery. Safe to call from any goroutine.
func (b *Bridge) SetProgram(p *tea.Program) {
	b.program.Store(p)
}

// ViewChanged implements conversation.Listener.
func (b *Bridge) ViewChanged(v conversation.View) {
	if p := b.program.Load(); p != nil {
		p.Send(ViewMsg{View: v})
	}
}

// ScrollToLatest implements conversation.Listener.
func (b *Bridge) ScrollToLatest(peerID string) {
	if p := b.program.Load(); p != nil {
		p.Send(ScrollMsg{PeerID: peerID})
	}
}
