// Package model holds the Bubble Tea model for the bountydeck panel.
package model

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/poidh-tools/bountydeck/pkg/audit"
	"github.com/poidh-tools/bountydeck/pkg/core"
	"github.com/poidh-tools/bountydeck/pkg/transport/uds"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneBounties Pane = iota
	PaneOutput
	PaneLogs
	PaneAudit
)

const paneCount = 4

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeEditor
	ModeConfirmCancel
)

// Display caps keep memory flat during long monitor runs.
const (
	maxOutputLines = 500
	maxLogLines    = 500
	maxAuditRows   = 200
)

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	eventCh    chan uds.Message

	// State
	bounties    []uds.BountyInfo
	jobs        map[string]core.Job // keyed by slot
	selectedIdx int
	output      map[string][]core.OutputLine // keyed by slot
	logLines    []string
	auditRows   []audit.Entry
	logPaused   bool

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	width      int
	height     int

	// Editor
	editor *EnvEditor

	// Cancel confirmation
	cancelTarget string

	statusMsg string
}

// New creates a new TUI app model.
func New(socketPath string) App {
	si := textinput.New()
	si.Placeholder = "filter..."
	si.CharLimit = 64

	return App{
		socketPath: socketPath,
		search:     si,
		jobs:       make(map[string]core.Job),
		output:     make(map[string][]core.OutputLine),
		activePane: PaneBounties,
		mode:       ModeNormal,
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("Bountydeck"),
	)
}

// tickMsg triggers periodic refresh.
type tickMsg time.Time

// connectedMsg indicates successful daemon connection.
type connectedMsg struct {
	client  *uds.Client
	eventCh chan uds.Message
}

type bountiesMsg struct{ bounties []uds.BountyInfo }

type jobsMsg struct{ jobs []core.Job }

type logsMsg struct{ lines []string }

type auditMsg struct{ entries []audit.Entry }

// daemonEventMsg is one broadcast pushed by the daemon.
type daemonEventMsg uds.Message

type errorMsg struct{ err error }

type statusNoteMsg string

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		ch := make(chan uds.Message, 256)
		client.OnEvent(func(m uds.Message) {
			select {
			case ch <- m:
			default: // drop when the UI falls behind
			}
		})
		return connectedMsg{client: client, eventCh: ch}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitEventCmd blocks on the daemon event channel; every delivery
// re-arms itself from Update.
func waitEventCmd(ch chan uds.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return daemonEventMsg(msg)
	}
}

func fetchBountiesCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Request(ctx, uds.MethodListBounties, nil)
		if err != nil {
			return errorMsg{err}
		}
		var res uds.ListBountiesResponse
		if err := resp.UnmarshalData(&res); err != nil {
			return errorMsg{err}
		}
		return bountiesMsg{bounties: res.Bounties}
	}
}

func fetchJobsCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Request(ctx, uds.MethodListJobs, nil)
		if err != nil {
			return errorMsg{err}
		}
		var res uds.ListJobsResponse
		if err := resp.UnmarshalData(&res); err != nil {
			return errorMsg{err}
		}
		return jobsMsg{jobs: res.Jobs}
	}
}

func fetchLogsCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Request(ctx, uds.MethodTailLogs, uds.TailLogsRequest{Lines: maxLogLines})
		if err != nil {
			return errorMsg{err}
		}
		var res uds.TailLogsResponse
		if err := resp.UnmarshalData(&res); err != nil {
			return errorMsg{err}
		}
		return logsMsg{lines: res.Lines}
	}
}

func fetchAuditCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Request(ctx, uds.MethodAuditRecent, uds.AuditRecentRequest{Limit: maxAuditRows})
		if err != nil {
			// No audit document yet is routine on a fresh worker.
			return auditMsg{}
		}
		var res uds.AuditRecentResponse
		if err := resp.UnmarshalData(&res); err != nil {
			return errorMsg{err}
		}
		return auditMsg{entries: res.Entries}
	}
}

func launchCmd(client *uds.Client, bounty string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := client.Request(ctx, uds.MethodLaunch, uds.LaunchRequest{Bounty: bounty})
		if err != nil {
			return errorMsg{err}
		}
		return statusNoteMsg("launched " + bounty)
	}
}

func cancelJobCmd(client *uds.Client, slot string, force bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err := client.Request(ctx, uds.MethodCancel, uds.CancelRequest{Slot: slot, Force: force})
		if err != nil {
			return errorMsg{err}
		}
		return statusNoteMsg("cancelled " + slot)
	}
}

func configSetCmd(client *uds.Client, key, value string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := client.Request(ctx, uds.MethodConfigSet, uds.ConfigSetRequest{Key: key, Value: value})
		if err != nil {
			return errorMsg{err}
		}
		return statusNoteMsg("saved " + key)
	}
}

func walletBalanceCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		resp, err := client.Request(ctx, uds.MethodWalletBalance, nil)
		if err != nil {
			return errorMsg{err}
		}
		var res uds.WalletBalanceResponse
		if err := resp.UnmarshalData(&res); err != nil {
			return errorMsg{err}
		}
		if len(res.Output) == 0 {
			return statusNoteMsg("wallet: no output")
		}
		return statusNoteMsg("wallet: " + res.Output[len(res.Output)-1])
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.eventCh = msg.eventCh
		a.connected = true
		a.statusMsg = "connected"
		return a, tea.Batch(
			tickCmd(),
			waitEventCmd(a.eventCh),
			fetchBountiesCmd(a.client),
			fetchJobsCmd(a.client),
			fetchLogsCmd(a.client),
			fetchAuditCmd(a.client),
		)

	case tickMsg:
		if a.client != nil {
			return a, tea.Batch(tickCmd(), fetchJobsCmd(a.client))
		}
		return a, tickCmd()

	case daemonEventMsg:
		a.applyEvent(uds.Message(msg))
		return a, waitEventCmd(a.eventCh)

	case bountiesMsg:
		a.bounties = msg.bounties
		if a.selectedIdx >= len(a.bounties) {
			a.selectedIdx = max(0, len(a.bounties)-1)
		}
		return a, nil

	case jobsMsg:
		jobs := make(map[string]core.Job, len(msg.jobs))
		for _, j := range msg.jobs {
			jobs[j.Slot] = j
		}
		a.jobs = jobs
		return a, nil

	case logsMsg:
		a.logLines = msg.lines
		return a, nil

	case auditMsg:
		a.auditRows = msg.entries
		return a, nil

	case statusNoteMsg:
		a.statusMsg = string(msg)
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

// applyEvent folds one daemon broadcast into the model.
func (a *App) applyEvent(msg uds.Message) {
	switch msg.Method {
	case uds.EventJobStatus:
		var j core.Job
		if msg.UnmarshalData(&j) == nil {
			a.jobs[j.Slot] = j
		}

	case uds.EventJobOutput:
		var line core.OutputLine
		if msg.UnmarshalData(&line) != nil {
			return
		}
		buf := append(a.output[line.Slot], line)
		if len(buf) > maxOutputLines {
			buf = buf[len(buf)-maxOutputLines:]
		}
		a.output[line.Slot] = buf

	case uds.EventLogsBatch:
		if a.logPaused {
			return
		}
		var evt uds.LogsBatchEvent
		if msg.UnmarshalData(&evt) != nil {
			return
		}
		a.logLines = append(a.logLines, evt.Lines...)
		if len(a.logLines) > maxLogLines {
			a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
		}

	case uds.EventAuditBatch:
		var evt uds.AuditBatchEvent
		if msg.UnmarshalData(&evt) != nil {
			return
		}
		a.auditRows = append(a.auditRows, evt.Entries...)
		if len(a.auditRows) > maxAuditRows {
			a.auditRows = a.auditRows[len(a.auditRows)-maxAuditRows:]
		}
	}
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Search mode
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			return a, cmd
		}
	}

	// Editor mode
	if a.mode == ModeEditor && a.editor != nil {
		return a.editor.HandleKey(a, msg)
	}

	// Cancel confirmation mode
	if a.mode == ModeConfirmCancel {
		switch msg.String() {
		case "y", "Y":
			slot := a.cancelTarget
			a.mode = ModeNormal
			a.cancelTarget = ""
			if a.client == nil {
				a.statusMsg = "not connected"
				return a, nil
			}
			a.statusMsg = "cancelling " + slot + "..."
			return a, cancelJobCmd(a.client, slot, false)
		default:
			a.mode = ModeNormal
			a.cancelTarget = ""
			a.statusMsg = "cancel aborted"
			return a, nil
		}
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		if a.activePane == PaneBounties && len(a.bounties) > 0 {
			a.selectedIdx = min(a.selectedIdx+1, len(a.filteredBounties())-1)
		}
	case "k", "up":
		if a.activePane == PaneBounties && a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "tab":
		a.activePane = (a.activePane + 1) % paneCount

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "enter":
		return a.launchSelected()

	case "c":
		if slot := a.selectedSlot(); slot != "" {
			if j, ok := a.jobs[slot]; ok && !j.State.Terminal() {
				a.cancelTarget = slot
				a.mode = ModeConfirmCancel
				a.statusMsg = "Cancel " + slot + "? (y/n)"
			}
		}

	case "C":
		if slot := a.selectedSlot(); slot != "" && a.client != nil {
			return a, cancelJobCmd(a.client, slot, true)
		}

	case "l":
		a.activePane = PaneLogs

	case " ":
		if a.activePane == PaneLogs {
			a.logPaused = !a.logPaused
		}

	case "e":
		a.editor = NewEnvEditor()
		a.mode = ModeEditor
		return a, textinput.Blink

	case "w":
		if a.client != nil {
			a.statusMsg = "checking wallet balance..."
			return a, walletBalanceCmd(a.client)
		}
	}

	return a, nil
}

func (a App) launchSelected() (tea.Model, tea.Cmd) {
	if a.activePane != PaneBounties || a.client == nil {
		return a, nil
	}
	bounties := a.filteredBounties()
	if len(bounties) == 0 || a.selectedIdx >= len(bounties) {
		return a, nil
	}
	b := bounties[a.selectedIdx]
	if j, ok := a.jobs[b.Name]; ok && !j.State.Terminal() {
		a.statusMsg = b.Name + " is already running"
		return a, nil
	}
	a.statusMsg = "launching " + b.Name + "..."
	return a, launchCmd(a.client, b.Name)
}

func (a App) filteredBounties() []uds.BountyInfo {
	q := strings.ToLower(a.search.Value())
	if q == "" {
		return a.bounties
	}
	var filtered []uds.BountyInfo
	for _, b := range a.bounties {
		if strings.Contains(strings.ToLower(b.Name), q) ||
			strings.Contains(strings.ToLower(b.Title), q) {
			filtered = append(filtered, b)
		}
	}
	return filtered
}

// selectedSlot is the slot of the highlighted bounty; slots and bounty
// names coincide for launches made from the panel.
func (a App) selectedSlot() string {
	bounties := a.filteredBounties()
	if a.selectedIdx < len(bounties) {
		return bounties[a.selectedIdx].Name
	}
	return ""
}

func (a App) selectedBounty() *uds.BountyInfo {
	bounties := a.filteredBounties()
	if a.selectedIdx < len(bounties) {
		return &bounties[a.selectedIdx]
	}
	return nil
}
