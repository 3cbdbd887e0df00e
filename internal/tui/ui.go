package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/procsup/internal/cliutil"
	"github.com/Paintersrp/procsup/internal/engine"
)

const (
	tableTitle            = "Processes"
	eventsTitle           = "Events"
	filterPageName        = "filter"
	defaultEventRetention = 500
	actionTimeout         = 30 * time.Second
)

// Controller is the subset of the supervisor the dashboard drives.
type Controller interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
}

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxEvents sets the number of events retained for each process.
func WithMaxEvents(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxEvents = n
		}
	}
}

// WithController enables the start, stop and restart shortcuts.
func WithController(c Controller) Option {
	return func(u *UI) {
		u.controller = c
	}
}

// UI is the interactive process dashboard backed by tview.
type UI struct {
	app        *tview.Application
	pages      *tview.Pages
	table      *tview.Table
	events     *tview.TextView
	footer     *tview.TextView
	incoming   chan engine.Event
	controller Controller

	processes map[string]*processState

	visible       []string
	selected      string
	eventsJSON    bool
	filter        string
	filterExpr    *regexp.Regexp
	eventsFocused bool
	maxEvents     int

	mu sync.RWMutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type processState struct {
	name         string
	state        engine.State
	pid          int
	startedAt    time.Time
	restarts     int
	fastFailures int
	message      string

	history []engine.Event
}

// New constructs a UI configured with the supplied options.
func New(opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	events := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	events.SetBorder(true).SetTitle(eventsTitle)
	events.SetChangedFunc(func() {
		app.Draw()
	})

	footer := tview.NewTextView().SetDynamicColors(true)
	footer.SetText(helpText)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 3, true).
		AddItem(events, 0, 2, false).
		AddItem(footer, 1, 0, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:       app,
		pages:     pages,
		table:     table,
		events:    events,
		footer:    footer,
		incoming:  make(chan engine.Event, 256),
		processes: make(map[string]*processState),
		maxEvents: defaultEventRetention,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectionChangedFunc(func(row, column int) {
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderEventsLocked()
	})

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	return ui
}

const helpText = "[::b]q[::-] quit  [::b]/[::-] filter  [::b]enter[::-] focus  [::b]j[::-] json  [::b]s[::-] start  [::b]x[::-] stop  [::b]r[::-] restart"

// EventSink exposes the channel where supervisor events should be delivered.
func (u *UI) EventSink() chan<- engine.Event {
	return u.incoming
}

// CloseEvents releases the event channel, allowing internal goroutines to exit cleanly.
func (u *UI) CloseEvents() {
	u.closeOnce.Do(func() {
		close(u.incoming)
	})
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the tview application and processes incoming events until Stop
// is invoked or ctx is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()

	u.cancelMu.Lock()
	cancel = u.cancel
	u.cancel = nil
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	u.wg.Wait()
	u.Stop()

	return err
}

// Stop terminates the application loop and releases resources.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-u.incoming:
			if !ok {
				return
			}
			if u.applyEvent(evt) {
				u.queueRefresh(true)
			} else {
				u.queueRefresh(false)
			}
		case <-ticker.C:
			u.queueRefresh(false)
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.overlayFocused() {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'j', 'J':
			u.toggleJSON()
			return nil
		case 's':
			u.act("start", Controller.Start)
			return nil
		case 'x':
			u.act("stop", Controller.Stop)
			return nil
		case 'r':
			u.act("restart", Controller.Restart)
			return nil
		}
	}
	return event
}

// overlayFocused reports whether a filter prompt or modal owns the keyboard.
func (u *UI) overlayFocused() bool {
	name, _ := u.pages.GetFrontPage()
	return name == filterPageName
}

func (u *UI) act(verb string, fn func(Controller, context.Context, string) error) {
	u.mu.RLock()
	name := u.selected
	u.mu.RUnlock()
	if u.controller == nil || name == "" {
		return
	}
	u.footer.SetText(fmt.Sprintf("%s %s...", verb, name))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := fn(u.controller, ctx, name)
		u.app.QueueUpdateDraw(func() {
			if err != nil {
				u.footer.SetText(fmt.Sprintf("[red]%s %s: %v[-]", verb, name, err))
				return
			}
			u.footer.SetText(helpText)
		})
	}()
}

func (u *UI) toggleFocus() {
	if u.eventsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.events)
	}
	u.eventsFocused = !u.eventsFocused
}

func (u *UI) toggleJSON() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.eventsJSON = !u.eventsJSON
	u.renderEventsLocked()
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
		}).
		AddButton("Cancel", func() {
			u.closeOverlay()
		})

	form.SetBorder(true).SetTitle("Filter Processes")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) closeOverlay() {
	u.pages.RemovePage(filterPageName)
	u.app.SetFocus(u.table)
	u.eventsFocused = false
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	var re *regexp.Regexp
	if expr != "" {
		var err error
		re, err = regexp.Compile(expr)
		if err != nil {
			u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
			return
		}
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.refreshTableLocked()
	u.renderEventsLocked()
	u.mu.Unlock()
	u.closeOverlay()
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.closeOverlay()
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

// applyEvent folds evt into the process table. It reports whether the
// selected process changed.
func (u *UI) applyEvent(evt engine.Event) bool {
	if evt.Process == "" {
		return false
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	ps := u.processes[evt.Process]
	if ps == nil {
		ps = &processState{name: evt.Process}
		u.processes[evt.Process] = ps
	}

	if evt.Type != engine.EventTypeExited && evt.Type != engine.EventTypeError {
		ps.state = evt.State
	}
	ps.pid = evt.PID
	ps.restarts = evt.Attempt
	ps.fastFailures = evt.FastFailures
	switch {
	case evt.Type == engine.EventTypeRunning:
		ps.startedAt = evt.Timestamp
	case !evt.State.Active() || evt.Type == engine.EventTypeExited:
		ps.startedAt = time.Time{}
	}
	ps.message = formatEventMessage(evt)

	ps.history = append(ps.history, evt)
	if over := len(ps.history) - u.maxEvents; over > 0 {
		ps.history = append([]engine.Event(nil), ps.history[over:]...)
	}

	return ps.name == u.selected || u.selected == ""
}

func (u *UI) queueRefresh(updateEvents bool) {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if updateEvents {
			u.renderEventsLocked()
		}
	})
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()

	headers := []string{"PROCESS", "STATE", "PID", "RESTARTS", "FAST FAILS", "UPTIME", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	names := make([]string, 0, len(u.processes))
	for name := range u.processes {
		if u.filterExpr != nil && !u.filterExpr.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	u.visible = names

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", tableTitle, u.filter))
	} else {
		u.table.SetTitle(tableTitle)
	}

	now := time.Now()
	for row, name := range names {
		ps := u.processes[name]
		uptime := "-"
		if ps.state == engine.StateRunning && !ps.startedAt.IsZero() {
			uptime = now.Sub(ps.startedAt).Truncate(time.Second).String()
		}
		pid := "-"
		if ps.pid > 0 {
			pid = strconv.Itoa(ps.pid)
		}
		message := ps.message
		if len(message) > 80 {
			message = message[:77] + "..."
		}

		values := []string{
			name,
			ps.state.String(),
			pid,
			strconv.Itoa(ps.restarts),
			strconv.Itoa(ps.fastFailures),
			uptime,
			message,
		}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			switch col {
			case 0:
				cell = cell.SetReference(name)
			case 1:
				cell = cell.SetTextColor(stateColor(ps.state))
			}
			u.table.SetCell(row+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
}

func (u *UI) renderEventsLocked() {
	u.events.Clear()
	var ps *processState
	if u.selected != "" {
		ps = u.processes[u.selected]
	}
	if ps == nil {
		u.events.SetTitle(eventsTitle)
		return
	}

	u.events.SetTitle(fmt.Sprintf("%s (%s)", eventsTitle, ps.name))

	for _, evt := range ps.history {
		if !u.eventsJSON {
			fmt.Fprintln(u.events, tview.Escape(cliutil.FormatEvent(evt)))
			continue
		}
		data, err := json.Marshal(cliutil.NewEventRecord(evt))
		if err != nil {
			fmt.Fprintf(u.events, "{\"error\":%q}\n", err.Error())
			continue
		}
		fmt.Fprintln(u.events, tview.Escape(string(data)))
	}
	u.events.ScrollToEnd()
}

func (u *UI) ensureSelectionLocked() {
	if len(u.visible) == 0 {
		u.selected = ""
		u.table.Select(0, 0)
		return
	}

	idx := -1
	for i, name := range u.visible {
		if name == u.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		u.selected = u.visible[0]
	}
	u.table.Select(idx+1, 0)
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

func stateColor(st engine.State) tcell.Color {
	switch st {
	case engine.StateRunning:
		return tcell.ColorGreen
	case engine.StateStarting, engine.StateStopping, engine.StateWaiting:
		return tcell.ColorYellow
	case engine.StateFailed:
		return tcell.ColorRed
	default:
		return tcell.ColorGray
	}
}

func formatEventMessage(evt engine.Event) string {
	msg := evt.Message
	if evt.Err != nil && evt.Err.Error() != msg {
		if msg != "" {
			msg += ": " + evt.Err.Error()
		} else {
			msg = evt.Err.Error()
		}
	}
	if evt.Reason != "" {
		if msg != "" {
			msg += " (" + evt.Reason + ")"
		} else {
			msg = evt.Reason
		}
	}
	return cliutil.RedactSecrets(msg)
}
