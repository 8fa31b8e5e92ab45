package app

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"labelscope/api/internal/workspace"
)

// liveSession is a workspace plus what the API remembers about it.
type liveSession struct {
	ws *workspace.Session

	mu            sync.Mutex
	reportID      string
	sectionTitles map[string]string
	lastDraft     []byte
}

func (l *liveSession) ReportID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reportID
}

func (l *liveSession) setReportID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reportID = id
}

func (l *liveSession) SectionTitles() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sectionTitles
}

func (l *liveSession) setSectionTitles(titles map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sectionTitles = titles
}

// markDraft records data as the latest draft and reports whether it changed.
func (l *liveSession) markDraft(data []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if string(l.lastDraft) == string(data) {
		return false
	}
	l.lastDraft = append(l.lastDraft[:0], data...)
	return true
}

// sessionRegistry holds live workspaces. Idle sessions expire and are closed.
type sessionRegistry struct {
	items *cache.Cache
}

func newSessionRegistry(idleTTL time.Duration) *sessionRegistry {
	if idleTTL <= 0 {
		idleTTL = 2 * time.Hour
	}
	c := cache.New(idleTTL, idleTTL/4)
	c.OnEvicted(func(_ string, v interface{}) {
		if l, ok := v.(*liveSession); ok {
			l.ws.Close()
		}
	})
	return &sessionRegistry{items: c}
}

func (r *sessionRegistry) put(l *liveSession) {
	r.items.SetDefault(l.ws.ID(), l)
}

// get returns the session and extends its idle deadline.
func (r *sessionRegistry) get(id string) (*liveSession, bool) {
	v, ok := r.items.Get(id)
	if !ok {
		return nil, false
	}
	l := v.(*liveSession)
	r.items.SetDefault(id, l)
	return l, true
}

func (r *sessionRegistry) remove(id string) {
	r.items.Delete(id)
}

func (r *sessionRegistry) all() []*liveSession {
	items := r.items.Items()
	out := make([]*liveSession, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*liveSession))
	}
	return out
}
