package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nexconsult/cookie-refresher/internal/models"
)

const (
	testHomeURL     = "https://www.manheim.com/"
	testToolURL     = "https://mmr.manheim.com/ui-mmr/"
	testFallbackURL = "https://mmr.manheim.com/ui-mmr/?country=US&popup=true&source=man"
	testEndpoint    = "https://hooks.example.com/cookies"
	cleanHTML       = "<html><body><h1>Welcome back</h1><p>Find vehicles fast.</p></body></html>"
)

var testTarget = Target{
	FrameURLSubstring: "mcom-header-footer",
	Selector:          `[data-test-id="mmr-btn"]`,
	URLPattern:        "mmr.manheim.com",
	FallbackURL:       testFallbackURL,
}

var errNavigation = errors.New("net::ERR_CONNECTION_RESET")

// fakeSite serves page content by URL
type fakeSite struct {
	mu      sync.Mutex
	content map[string]string
	navErr  map[string]error
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		content: map[string]string{
			testHomeURL:     cleanHTML,
			testToolURL:     cleanHTML,
			testFallbackURL: cleanHTML,
		},
		navErr: map[string]error{},
	}
}

func (s *fakeSite) set(url, html string) {
	s.mu.Lock()
	s.content[url] = html
	s.mu.Unlock()
}

func (s *fakeSite) get(url string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content[url]
}

func (s *fakeSite) fail(url string, err error) {
	s.mu.Lock()
	s.navErr[url] = err
	s.mu.Unlock()
}

func (s *fakeSite) navigationError(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navErr[url]
}

type urlWaiter struct {
	match func(string) bool
	fire  func(string)
}

// fakeElement is a trigger control
type fakeElement struct {
	mu       sync.Mutex
	hidden   bool
	clickErr error
	onClick  func()
	hovers   int
	clicks   int
}

func (e *fakeElement) WaitVisible(ctx context.Context) error {
	if e.hidden {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (e *fakeElement) Hover(ctx context.Context) error {
	e.mu.Lock()
	e.hovers++
	e.mu.Unlock()
	return nil
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.mu.Lock()
	e.clicks++
	onClick := e.onClick
	e.mu.Unlock()
	if e.clickErr != nil {
		return e.clickErr
	}
	if onClick != nil {
		onClick()
	}
	return nil
}

func (e *fakeElement) clickCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// fakePage is a browser tab backed by a fakeSite
type fakePage struct {
	site *fakeSite

	mu          sync.Mutex
	url         string
	htmlErr     error
	element     *fakeElement
	locateErr   error
	navigations []string
	reloads     int
	moves       int
	scrolls     int
	shots       int
	closed      bool
	waiters     []*urlWaiter
}

func newFakePage(site *fakeSite) *fakePage {
	return &fakePage{site: site, url: "about:blank"}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.site.navigationError(url); err != nil {
		return err
	}

	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()
	return ctx.Err()
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	url, err := p.url, p.htmlErr
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	return p.site.get(url), nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	p.shots++
	p.mu.Unlock()
	return []byte("\x89PNG fake"), nil
}

func (p *fakePage) Locate(ctx context.Context, frameURL, selector string) (Element, error) {
	if p.locateErr != nil {
		return nil, p.locateErr
	}
	if p.element == nil {
		return nil, errors.New("no node matches selector")
	}
	return p.element, nil
}

func (p *fakePage) WaitForNavigation(ctx context.Context, match func(string) bool) <-chan string {
	ch := make(chan string, 1)
	w := &urlWaiter{match: match}
	w.fire = func(url string) { ch <- url }

	p.mu.Lock()
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, other := range p.waiters {
			if other == w {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// navigateInTab simulates a navigation started by the page itself
func (p *fakePage) navigateInTab(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	var remaining []*urlWaiter
	for _, w := range p.waiters {
		if w.match(url) {
			w.fire(url)
			continue
		}
		remaining = append(remaining, w)
	}
	p.waiters = remaining
}

func (p *fakePage) MouseMove(ctx context.Context, x, y float64, steps int) error {
	p.mu.Lock()
	p.moves++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) ScrollBy(ctx context.Context, dy int) error {
	p.mu.Lock()
	p.scrolls++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePage) navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// fakeSession is a browser context
type fakeSession struct {
	site *fakeSite
	home *fakePage

	mu          sync.Mutex
	homeTaken   bool
	opened      []*fakePage
	injected    []models.SessionCookie
	jar         []models.SessionCookie
	cookiesErr  error
	pageWaiters []*pageWaiter
	closes      int
}

type pageWaiter struct {
	match func(string) bool
	ch    chan Page
}

func newFakeSession(site *fakeSite) *fakeSession {
	return &fakeSession{site: site, home: newFakePage(site)}
}

func (s *fakeSession) SetCookies(ctx context.Context, cookies []models.SessionCookie) error {
	s.mu.Lock()
	s.injected = append(s.injected, cookies...)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Cookies(ctx context.Context) ([]models.SessionCookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cookiesErr != nil {
		return nil, s.cookiesErr
	}
	return append([]models.SessionCookie(nil), s.jar...), nil
}

func (s *fakeSession) NewPage(ctx context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.homeTaken {
		s.homeTaken = true
		return s.home, nil
	}
	p := newFakePage(s.site)
	s.opened = append(s.opened, p)
	return p, nil
}

func (s *fakeSession) WaitForPage(ctx context.Context, match func(string) bool) <-chan Page {
	w := &pageWaiter{match: match, ch: make(chan Page, 1)}

	s.mu.Lock()
	s.pageWaiters = append(s.pageWaiters, w)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, other := range s.pageWaiters {
			if other == w {
				s.pageWaiters = append(s.pageWaiters[:i], s.pageWaiters[i+1:]...)
				break
			}
		}
		close(w.ch)
	}()
	return w.ch
}

// openPopup simulates the site opening a new tab at url
func (s *fakeSession) openPopup(url string) *fakePage {
	p := newFakePage(s.site)
	p.url = url

	s.mu.Lock()
	defer s.mu.Unlock()
	var remaining []*pageWaiter
	for _, w := range s.pageWaiters {
		if w.match(url) {
			w.ch <- p
			continue
		}
		remaining = append(remaining, w)
	}
	s.pageWaiters = remaining
	return p
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) openedPages() []*fakePage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakePage(nil), s.opened...)
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeLauncher struct {
	session  *fakeSession
	err      error
	launches int
	proxies  []string
}

func (l *fakeLauncher) Launch(ctx context.Context, proxyURL string) (Session, error) {
	l.launches++
	l.proxies = append(l.proxies, proxyURL)
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

// fakeHumanizer acts instantly
type fakeHumanizer struct {
	mu     sync.Mutex
	pauses int
}

func (h *fakeHumanizer) Pause(ctx context.Context, min, max time.Duration) error {
	h.mu.Lock()
	h.pauses++
	h.mu.Unlock()
	return ctx.Err()
}

func (h *fakeHumanizer) MoveMouse(ctx context.Context, page Page) error {
	return page.MouseMove(ctx, 100, 100, 1)
}

func (h *fakeHumanizer) Scroll(ctx context.Context, page Page) error {
	return page.ScrollBy(ctx, 200)
}

type dispatched struct {
	result   models.RefreshResult
	endpoint string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	err   error
	calls []dispatched
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, result models.RefreshResult, endpoint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatched{result: result, endpoint: endpoint})
	return d.err
}

type artifact struct {
	data        []byte
	contentType string
}

type fakeStore struct {
	mu    sync.Mutex
	err   error
	items map[string]artifact
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]artifact{}}
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items[key] = artifact{data: data, contentType: contentType}
	return nil
}

func (s *fakeStore) get(key string) (artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[key]
	return a, ok
}

func requiredJar() []models.SessionCookie {
	return []models.SessionCookie{
		{Name: "_cl", Value: "cl-new", Domain: ".manheim.com", Path: "/", Expires: 1893456000, Secure: true},
		{Name: "SESSION", Value: "sess-new", Domain: ".manheim.com", Path: "/", Expires: -1, HTTPOnly: true, Secure: true},
		{Name: "session", Value: "hf-new", Domain: "mcom-header-footer.manheim.com", Path: "/", Expires: 1893456000, HTTPOnly: true},
		{Name: "session.sig", Value: "sig-new", Domain: "mcom-header-footer.manheim.com", Path: "/", Expires: 1893456000, HTTPOnly: true},
	}
}

func staleCookies() []models.SessionCookie {
	jar := requiredJar()
	for i := range jar {
		jar[i].Value = "stale-" + jar[i].Name
	}
	return jar
}

func testTimeouts() Timeouts {
	return Timeouts{
		Navigation: time.Second,
		Visibility: 50 * time.Millisecond,
		Race:       100 * time.Millisecond,
		Fallback:   time.Second,
	}
}
