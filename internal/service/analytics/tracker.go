package analytics

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"imi-storefront/internal/clock"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/tasks"
)

type beaconSender interface {
	TrackEvent(ctx context.Context, ev domain.AnalyticsEvent) error
}

type enqueuer interface {
	Enqueue(ev domain.AnalyticsEvent)
	Flush()
}

// Client describes the browser that sent a tracking call.
type Client struct {
	UserAgent        string `json:"userAgent"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	Referrer         string `json:"referrer,omitempty"`
}

// Tracker turns one tab's navigation and interaction into analytics events.
type Tracker struct {
	sessionID string
	queue     enqueuer
	beacon    beaconSender
	tasks     tasks.Runner
	clock     clock.Clock
	userID    func() string
	logger    *log.Logger

	mu           sync.Mutex
	entryPage    string
	currentPage  string
	pageStart    time.Time
	sessionStart time.Time
	pageViews    int
}

// TrackerDeps wires a Tracker. UserID may be nil for anonymous tabs.
type TrackerDeps struct {
	Queue  enqueuer
	Beacon beaconSender
	Tasks  tasks.Runner
	Clock  clock.Clock
	UserID func() string
	Logger *log.Logger
}

func NewTracker(sessionID string, deps TrackerDeps) *Tracker {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Tasks == nil {
		deps.Tasks = tasks.Reject{}
	}
	if deps.UserID == nil {
		deps.UserID = func() string { return "" }
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	return &Tracker{
		sessionID: sessionID,
		queue:     deps.Queue,
		beacon:    deps.Beacon,
		tasks:     deps.Tasks,
		clock:     deps.Clock,
		userID:    deps.UserID,
		logger:    deps.Logger,
	}
}

func (t *Tracker) SessionID() string { return t.sessionID }

func (t *Tracker) base(eventType domain.EventType, page string, c Client, now time.Time) domain.AnalyticsEvent {
	d := ClassifyUserAgent(c.UserAgent)
	return domain.AnalyticsEvent{
		SessionID:        t.sessionID,
		UserID:           t.userID(),
		EventType:        eventType,
		Page:             page,
		DeviceType:       d.Type,
		Browser:          d.Browser,
		OS:               d.OS,
		ScreenResolution: c.ScreenResolution,
		Timestamp:        now.UTC(),
	}
}

// PageView records a navigation to page. If a page was already being
// viewed, a time-spent update for it is queued first.
func (t *Tracker) PageView(page string, c Client) {
	now := t.clock.Now()

	t.mu.Lock()
	var prev *domain.AnalyticsEvent
	if t.currentPage != "" && !t.pageStart.IsZero() {
		ev := t.base(domain.EventPageView, t.currentPage, c, now)
		spent := now.Sub(t.pageStart).Milliseconds()
		ev.TimeSpent = &spent
		ev.Metadata = map[string]any{"timeSpentUpdate": true}
		prev = &ev
	}
	if t.entryPage == "" {
		t.entryPage = page
		t.sessionStart = now
	}
	t.currentPage = page
	t.pageStart = now
	t.pageViews++
	ev := t.base(domain.EventPageView, page, c, now)
	ev.Referrer = c.Referrer
	ev.EntryPage = t.entryPage
	t.mu.Unlock()

	if prev != nil {
		t.queue.Enqueue(*prev)
	}
	t.queue.Enqueue(ev)
}

// Click records an activation of path[0]. It reports false when no
// interactive element was hit or the element has no usable label.
func (t *Tracker) Click(path []Element, page, pageURL string, c Client) bool {
	el, ok := Closest(path)
	if !ok {
		return false
	}
	label := ClickLabel(el)
	if label == "unknown" && el.AriaLabel == "" {
		return false
	}
	ev := t.base(domain.EventClick, page, c, t.clock.Now())
	ev.ScreenResolution = ""
	ev.Metadata = map[string]any{
		"buttonText": label,
		"elementTag": strings.ToLower(el.Tag),
		"pageUrl":    pageURL,
	}
	t.queue.Enqueue(ev)
	return true
}

// Visibility handles a tab visibility change. Going hidden flushes the
// queue and ends the session.
func (t *Tracker) Visibility(state string, c Client) {
	if state != "hidden" {
		return
	}
	t.queue.Flush()
	t.SessionEnd(c)
}

// Unload flushes the queue and ends the session.
func (t *Tracker) Unload(c Client) {
	t.queue.Flush()
	t.SessionEnd(c)
}

// SessionEnd sends a session_end event as a detached beacon, falling back
// to the batch queue when the beacon cannot be scheduled.
func (t *Tracker) SessionEnd(c Client) {
	now := t.clock.Now()

	t.mu.Lock()
	ev := t.base(domain.EventSessionEnd, t.currentPage, c, now)
	ev.ExitPage = t.currentPage
	ev.EntryPage = t.entryPage
	var duration, spent int64
	if !t.sessionStart.IsZero() {
		duration = now.Sub(t.sessionStart).Milliseconds()
	}
	if !t.pageStart.IsZero() {
		spent = now.Sub(t.pageStart).Milliseconds()
	}
	bounce := t.pageViews <= 1
	ev.SessionDuration = &duration
	ev.TimeSpent = &spent
	ev.IsBounce = &bounce
	t.mu.Unlock()

	if t.beacon != nil && t.tasks.Go("analytics-beacon", func(ctx context.Context) error {
		return t.beacon.TrackEvent(ctx, ev)
	}) {
		return
	}
	t.logger.Printf("analytics tracker: beacon unavailable session_id=%s, queued session_end", t.sessionID)
	t.queue.Enqueue(ev)
}
