package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Part 标识字符被打到气泡中的哪个区域。
type Part int

const (
	PartHeader Part = iota
	PartContent
	PartSummary
)

// View 是管道驱动的展示层，所有调用都来自管道的 Run 循环。
type View interface {
	SetInputEnabled(enabled bool)
	SetLoading(loading bool)
	UserMessage(text string)
	BotMessage(text string)
	OpenBubble()
	TypeRune(part Part, r rune)
	EndPart(part Part)
	CloseBubble()
	Elapsed(d time.Duration)
}

var (
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	summaryStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("10"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// TerminalView 在终端中逐行渲染对话，标题加粗。
type TerminalView struct {
	out     io.Writer
	loading bool
}

// NewTerminalView 创建写入 out 的终端视图。
func NewTerminalView(out io.Writer) *TerminalView {
	return &TerminalView{out: out}
}

func (v *TerminalView) SetInputEnabled(enabled bool) {
	if enabled {
		v.clearLoading()
		fmt.Fprint(v.out, userStyle.Render("> "))
	}
}

func (v *TerminalView) SetLoading(loading bool) {
	if loading == v.loading {
		return
	}
	if loading {
		fmt.Fprint(v.out, faintStyle.Render("... checking facts"))
		v.loading = true
		return
	}
	v.clearLoading()
}

func (v *TerminalView) clearLoading() {
	if v.loading {
		fmt.Fprint(v.out, "\r\x1b[K")
		v.loading = false
	}
}

func (v *TerminalView) UserMessage(text string) {
	fmt.Fprintln(v.out, userStyle.Render("you: ")+text)
}

func (v *TerminalView) BotMessage(text string) {
	v.clearLoading()
	fmt.Fprintln(v.out, botStyle.Render(text))
}

func (v *TerminalView) OpenBubble() {
	v.clearLoading()
	fmt.Fprintln(v.out)
}

func (v *TerminalView) TypeRune(part Part, r rune) {
	switch part {
	case PartHeader:
		fmt.Fprint(v.out, headerStyle.Render(string(r)))
	case PartSummary:
		fmt.Fprint(v.out, summaryStyle.Render(string(r)))
	default:
		fmt.Fprint(v.out, string(r))
	}
}

func (v *TerminalView) EndPart(Part) {
	fmt.Fprintln(v.out)
}

func (v *TerminalView) CloseBubble() {}

func (v *TerminalView) Elapsed(d time.Duration) {
	fmt.Fprintln(v.out, faintStyle.Render(fmt.Sprintf("elapsed %.2fs", d.Seconds())))
}
