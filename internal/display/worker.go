// Package display implements the Status Surface (spec.md §4.6).
package display

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ulfur/nightshift/internal/external"
	"github.com/ulfur/nightshift/internal/promptdomain"
)

const (
	brand             = "NIGHTSHIFT"
	driverRetryDelay  = 30 * time.Second
	powerPollInterval = 5 * time.Second
	refreshQueueCap   = 5
)

type refreshRequest struct {
	reason   string
	sections []string
}

// Snapshotter is the prompt-list view the Worker reads to render a frame;
// *store.Store satisfies it. Human tasks and power telemetry come from the
// separate HumanTaskStore and PowerTelemetry collaborators.
type Snapshotter interface {
	List() []promptdomain.Prompt
	PendingCount() int
}

// Worker drives the panel: it owns the refresh-request queue, the
// minute-aligned clock tick, a periodic re-render on the rotation interval,
// and the power-telemetry poll described in spec.md §4.6. The rotation tick
// does not change the subtitle text, which is always the current weekday
// and time. Worker implements external.DisplayManager so the
// rest of nightshiftd can request refreshes without knowing about the
// panel's rendering details.
type Worker struct {
	panel    Panel
	store    Snapshotter
	tasks    external.HumanTaskStore
	power    external.PowerTelemetry
	log      *slog.Logger
	layout   Layout
	rotation time.Duration

	mu       sync.Mutex
	requests []refreshRequest
	wake     chan struct{}

	overlayMu    sync.Mutex
	overlayUntil time.Time
	overlayTitle string
	overlayLines []string

	subtitleIdx int
}

// New builds a display Worker bound to panel, rendering at width x height.
func New(panel Panel, st Snapshotter, tasks external.HumanTaskStore, power external.PowerTelemetry, width, height int, rotation time.Duration, log *slog.Logger) *Worker {
	w := &Worker{
		panel:    panel,
		store:    st,
		tasks:    tasks,
		power:    power,
		log:      log,
		layout:   NewLayout(width, height),
		rotation: rotation,
		wake:     make(chan struct{}, 1),
	}
	return w
}

// RequestRefresh enqueues a refresh reason, coalescing with whatever is
// already queued once the bound is reached: the oldest pending request is
// dropped in favor of the newest (spec.md §4.6 "Refresh coalescing").
func (w *Worker) RequestRefresh(reason string, sections []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.requests) >= refreshQueueCap {
		w.requests = w.requests[1:]
	}
	w.requests = append(w.requests, refreshRequest{reason: reason, sections: sections})
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// ShowOverlay pins title/lines over the body region until duration elapses.
func (w *Worker) ShowOverlay(title string, lines []string, duration time.Duration) {
	w.overlayMu.Lock()
	w.overlayTitle = title
	w.overlayLines = lines
	w.overlayUntil = time.Now().Add(duration)
	w.overlayMu.Unlock()
	w.RequestRefresh("overlay", []string{"body"})
}

// ClearOverlay removes any pinned overlay immediately.
func (w *Worker) ClearOverlay() {
	w.overlayMu.Lock()
	w.overlayTitle = ""
	w.overlayLines = nil
	w.overlayUntil = time.Time{}
	w.overlayMu.Unlock()
	w.RequestRefresh("overlay-clear", []string{"body"})
}

func (w *Worker) activeOverlay() (string, []string, bool) {
	w.overlayMu.Lock()
	defer w.overlayMu.Unlock()
	if w.overlayUntil.IsZero() || time.Now().After(w.overlayUntil) {
		return "", nil, false
	}
	return w.overlayTitle, w.overlayLines, true
}

// Run drives the panel until ctx is canceled, then renders the final black
// frame and closes the panel (spec.md §4.6 "Cancellation & shutdown").
func (w *Worker) Run(ctx context.Context) {
	for {
		if err := w.panel.InitFull(); err != nil {
			w.log.Warn("display: panel init failed, retrying", "error", err, "retry_in", driverRetryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(driverRetryDelay):
				continue
			}
		}
		break
	}
	defer func() {
		_ = w.panel.DrawFull(BlackFrame(w.layout, brand))
		_ = w.panel.Close()
	}()

	w.renderFull("startup")

	clockTicker := time.NewTicker(time.Until(nextMinuteBoundary()))
	defer clockTicker.Stop()
	powerTicker := time.NewTicker(powerPollInterval)
	defer powerTicker.Stop()
	var rotationTicker *time.Ticker
	if w.rotation > 0 {
		rotationTicker = time.NewTicker(w.rotation)
		defer rotationTicker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.drainAndRender()
		case <-clockTicker.C:
			clockTicker.Reset(time.Until(nextMinuteBoundary()))
			w.renderFull("clock")
		case <-powerTicker.C:
			w.pollPower(ctx)
		case c := <-tickerChan(rotationTicker):
			_ = c
			w.subtitleIdx++
			w.renderFull("subtitle-rotation")
		}
	}
}

func tickerChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// drainAndRender collapses every queued refresh request into a single
// render pass, rendering once for whatever the most recent reason was
// (spec.md §4.6 "Refresh coalescing").
func (w *Worker) drainAndRender() {
	w.mu.Lock()
	reqs := w.requests
	w.requests = nil
	w.mu.Unlock()

	if len(reqs) == 0 {
		return
	}
	w.renderFull(reqs[len(reqs)-1].reason)
}

func (w *Worker) pollPower(ctx context.Context) {
	if w.power == nil {
		return
	}
	status, err := w.power.ReadStatus()
	if err != nil {
		w.log.Warn("display: power telemetry read failed", "error", err)
		return
	}
	if status != nil && status.LowBattery {
		w.ShowOverlay("LOW BATTERY", []string{fmt.Sprintf("%.0f%%", status.Percent)}, time.Minute)
	}
	w.RequestRefresh("power", []string{"header_right"})
}

func (w *Worker) renderFull(reason string) {
	state := w.buildState()
	img := RenderFull(w.layout, state)
	if err := w.panel.DrawFull(img); err != nil {
		w.log.Warn("display: draw failed", "reason", reason, "error", err)
	}
}

func (w *Worker) buildState() State {
	now := time.Now()
	subtitle := now.Format("Mon 15:04")

	entries := w.bodyEntries()
	if title, lines, ok := w.activeOverlay(); ok {
		entries = []BodyEntry{{Text: title}}
		for _, l := range lines {
			entries = append(entries, BodyEntry{Text: l})
		}
	}

	powerIcon := "--"
	if w.power != nil {
		if status, err := w.power.ReadStatus(); err == nil && status != nil {
			if status.ACPower {
				powerIcon = "AC"
			} else {
				powerIcon = fmt.Sprintf("%.0f%%", status.Percent)
			}
		}
	}

	host, _ := os.Hostname()
	ip := localIP()

	return State{
		Brand:     brand,
		Subtitle:  subtitle,
		PowerIcon: powerIcon,
		Entries:   entries,
		Hostname:  host,
		IP:        ip,
		Footer:    fmt.Sprintf("pending: %d", w.store.PendingCount()),
	}
}

// bodyEntries orders human tasks first, then agent prompts, separated by a
// divider (spec.md §4.6 "Body composition").
func (w *Worker) bodyEntries() []BodyEntry {
	var entries []BodyEntry

	if w.tasks != nil {
		if tasks, err := w.tasks.List(); err == nil {
			for _, t := range tasks {
				mark := " "
				if t.Done {
					mark = "x"
				}
				entries = append(entries, BodyEntry{Text: fmt.Sprintf("[%s] %s", mark, t.Title)})
			}
		}
	}

	prompts := w.store.List()
	sort.Slice(prompts, func(i, j int) bool {
		return prompts[i].EnqueuedAt.Before(prompts[j].EnqueuedAt)
	})

	if len(entries) > 0 && len(prompts) > 0 {
		entries = append(entries, BodyEntry{Divider: true})
	}
	for _, p := range prompts {
		text := fmt.Sprintf("%-10s %s", p.Status, truncate(p.Text, 40))
		entries = append(entries, BodyEntry{Text: text})
	}
	return entries
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func nextMinuteBoundary() time.Time {
	now := time.Now()
	return now.Truncate(time.Minute).Add(time.Minute)
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "unknown"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "unknown"
	}
	return addr.IP.String()
}
