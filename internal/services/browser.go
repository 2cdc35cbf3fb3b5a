package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/nexconsult/cookie-refresher/internal/config"
	"github.com/nexconsult/cookie-refresher/internal/models"
	"github.com/nexconsult/cookie-refresher/internal/refresh"
)

const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};`

// BrowserService launches one isolated Chrome per refresh run
type BrowserService struct {
	config   config.BrowserConfig
	logger   *logrus.Logger
	active   atomic.Int32
	launched atomic.Int64
	failures atomic.Int64
}

// NewBrowserService creates a new browser service
func NewBrowserService(cfg config.BrowserConfig, logger *logrus.Logger) *BrowserService {
	return &BrowserService{
		config: cfg,
		logger: logger,
	}
}

// Launch starts Chrome. Authenticated proxies are fronted by a local
// forwarder since Chrome takes no credentials on its command line.
func (s *BrowserService) Launch(ctx context.Context, proxyURL string) (refresh.Session, error) {
	opts := s.allocatorOptions()

	var forwarder *ProxyForwarder
	if proxyURL != "" {
		settings, err := ParseProxy(proxyURL)
		if err != nil {
			return nil, err
		}

		proxyServer := settings.Server
		if settings.HasAuth() {
			if strings.HasPrefix(settings.Server, "socks5://") {
				return nil, fmt.Errorf("authenticated socks5 proxies are not supported")
			}
			forwarder, err = StartProxyForwarder(settings, s.logger)
			if err != nil {
				return nil, err
			}
			proxyServer = forwarder.Addr()
		}
		opts = append(opts, chromedp.ProxyServer(proxyServer))
		s.logger.WithField("proxy", settings.Display).Info("Browser traffic goes through proxy")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	session := &chromeSession{
		service:   s,
		ctx:       browserCtx,
		cancel:    func() { browserCancel(); allocCancel() },
		forwarder: forwarder,
	}

	if err := startTarget(ctx, browserCtx); err != nil {
		session.Close()
		s.failures.Add(1)
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if err := runIn(ctx, browserCtx, s.pageSetup()); err != nil {
		session.Close()
		s.failures.Add(1)
		return nil, fmt.Errorf("failed to prepare page: %w", err)
	}

	session.initial = newChromePage(browserCtx, nil)
	s.active.Add(1)
	s.launched.Add(1)

	s.logger.WithFields(logrus.Fields{
		"headless": s.config.Headless,
		"viewport": fmt.Sprintf("%dx%d", s.config.ViewportWidth, s.config.ViewportHeight),
	}).Debug("Browser launched")

	return session, nil
}

func (s *BrowserService) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("lang", s.config.Locale),
		chromedp.WindowSize(s.config.ViewportWidth, s.config.ViewportHeight),
		chromedp.UserAgent(s.config.UserAgent),
	}

	if s.config.Headless {
		opts = append(opts, chromedp.Headless, chromedp.DisableGPU)
	}
	if s.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.config.ExecPath))
	}
	return opts
}

// pageSetup applies the persona to a tab
func (s *BrowserService) pageSetup() chromedp.Tasks {
	return chromedp.Tasks{
		emulation.SetUserAgentOverride(s.config.UserAgent).WithAcceptLanguage(s.config.Locale),
		emulation.SetLocaleOverride().WithLocale(s.config.Locale),
		emulation.SetTimezoneOverride(s.config.Timezone),
		chromedp.EmulateViewport(int64(s.config.ViewportWidth), int64(s.config.ViewportHeight)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	}
}

// GetStats returns browser usage statistics
func (s *BrowserService) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"active_sessions": s.active.Load(),
		"launched":        s.launched.Load(),
		"launch_failures": s.failures.Load(),
		"headless":        s.config.Headless,
	}
}

// Health returns browser service health status
func (s *BrowserService) Health() map[string]interface{} {
	stats := s.GetStats()

	status := "healthy"
	if s.failures.Load() > 0 && s.launched.Load() == 0 {
		status = "unhealthy"
	}

	return map[string]interface{}{
		"status": status,
		"stats":  stats,
	}
}

// chromeSession is one Chrome process and its tabs
type chromeSession struct {
	service   *BrowserService
	ctx       context.Context
	cancel    context.CancelFunc
	forwarder *ProxyForwarder

	mu           sync.Mutex
	initial      *chromePage
	initialTaken bool
	pages        []*chromePage
	closed       bool
}

func (s *chromeSession) SetCookies(ctx context.Context, cookies []models.SessionCookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, toCookieParam(c))
	}
	return runIn(ctx, s.ctx, network.SetCookies(params))
}

func (s *chromeSession) Cookies(ctx context.Context) ([]models.SessionCookie, error) {
	var raw []*network.Cookie
	err := runIn(ctx, s.ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]models.SessionCookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, fromNetworkCookie(c))
	}
	return cookies, nil
}

func (s *chromeSession) NewPage(ctx context.Context) (refresh.Page, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("browser session is closed")
	}
	if !s.initialTaken {
		s.initialTaken = true
		s.mu.Unlock()
		return s.initial, nil
	}
	s.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(s.ctx)
	p, err := s.attach(ctx, tabCtx, tabCancel)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// attach starts the target behind tabCtx and applies the persona, so opened
// tabs and popups look the same to the site
func (s *chromeSession) attach(ctx, tabCtx context.Context, tabCancel context.CancelFunc) (*chromePage, error) {
	if err := startTarget(ctx, tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	if err := runIn(ctx, tabCtx, s.service.pageSetup()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}
	return s.track(newChromePage(tabCtx, tabCancel)), nil
}

func (s *chromeSession) WaitForPage(ctx context.Context, match func(url string) bool) <-chan refresh.Page {
	out := make(chan refresh.Page, 1)

	listenCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)

	ids := chromedp.WaitNewTarget(listenCtx, func(info *target.Info) bool {
		return info.Type == "page" && match(info.URL)
	})

	go func() {
		defer close(out)
		defer stop()
		defer cancel()

		var id target.ID
		select {
		case id = <-ids:
		case <-listenCtx.Done():
			return
		}

		tabCtx, tabCancel := chromedp.NewContext(s.ctx, chromedp.WithTargetID(id))
		p, err := s.attach(ctx, tabCtx, tabCancel)
		if err != nil {
			s.service.logger.WithError(err).Debug("Failed to attach to new page")
			return
		}

		select {
		case out <- p:
		case <-ctx.Done():
			p.Close()
		}
	}()

	return out
}

func (s *chromeSession) track(p *chromePage) *chromePage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, p)
	return p
}

// Close shuts Chrome down along with the proxy forwarder
func (s *chromeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pages := s.pages
	s.pages = nil
	started := s.initial != nil
	s.mu.Unlock()

	for _, p := range pages {
		p.Close()
	}
	s.cancel()

	if started {
		s.service.active.Add(-1)
	}
	if s.forwarder != nil {
		return s.forwarder.Close()
	}
	return nil
}

// chromePage is one tab attached through chromedp
type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	mouseX float64
	mouseY float64
	once   sync.Once
}

func newChromePage(ctx context.Context, cancel context.CancelFunc) *chromePage {
	return &chromePage{ctx: ctx, cancel: cancel}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return runIn(ctx, p.ctx, chromedp.Navigate(url))
}

func (p *chromePage) Reload(ctx context.Context) error {
	return runIn(ctx, p.ctx, chromedp.Reload())
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var location string
	err := runIn(ctx, p.ctx, chromedp.Location(&location))
	return location, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := runIn(ctx, p.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := runIn(ctx, p.ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

func (p *chromePage) Locate(ctx context.Context, frameURL, selector string) (refresh.Element, error) {
	el := &chromeElement{page: p, selector: selector}
	if frameURL == "" {
		return el, nil
	}

	var (
		frames []*cdp.Node
		tree   *page.FrameTree
	)
	err := runIn(ctx, p.ctx,
		chromedp.Nodes("iframe", &frames, chromedp.ByQueryAll, chromedp.AtLeast(0)),
		chromedp.ActionFunc(func(c context.Context) error {
			var err error
			tree, err = page.GetFrameTree().Do(c)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}
	el.frame = matchFrame(frames, frameURLs(tree), frameURL)
	return el, nil
}

// frameURLs maps every frame in tree to the URL of its current document
func frameURLs(tree *page.FrameTree) map[cdp.FrameID]string {
	urls := make(map[cdp.FrameID]string)
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		if t == nil {
			return
		}
		if t.Frame != nil {
			urls[t.Frame.ID] = t.Frame.URL
		}
		for _, child := range t.ChildFrames {
			walk(child)
		}
	}
	walk(tree)
	return urls
}

// matchFrame picks the iframe whose loaded document URL contains substring.
// The src attribute only counts when the live URL is unknown, since scripts
// can navigate a frame away from it.
func matchFrame(frames []*cdp.Node, urls map[cdp.FrameID]string, substring string) *cdp.Node {
	for _, frame := range frames {
		if live := liveFrameURL(frame, urls); live != "" && strings.Contains(live, substring) {
			return frame
		}
	}
	for _, frame := range frames {
		if liveFrameURL(frame, urls) == "" && strings.Contains(frame.AttributeValue("src"), substring) {
			return frame
		}
	}
	return nil
}

func liveFrameURL(frame *cdp.Node, urls map[cdp.FrameID]string) string {
	if url, ok := urls[frame.FrameID]; ok && frame.FrameID != "" {
		return url
	}
	if frame.ContentDocument != nil {
		return frame.ContentDocument.DocumentURL
	}
	return ""
}

func (p *chromePage) WaitForNavigation(ctx context.Context, match func(url string) bool) <-chan string {
	out := make(chan string, 1)

	listenCtx, cancel := context.WithCancel(p.ctx)
	stop := context.AfterFunc(ctx, cancel)

	var once sync.Once
	finish := func(url string) {
		once.Do(func() {
			if url != "" {
				out <- url
			}
			close(out)
			cancel()
		})
	}

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventFrameNavigated); ok && e.Frame.ParentID == "" && match(e.Frame.URL) {
			finish(e.Frame.URL)
		}
	})

	go func() {
		<-listenCtx.Done()
		stop()
		finish("")
	}()

	return out
}

func (p *chromePage) MouseMove(ctx context.Context, x, y float64, steps int) error {
	if steps < 1 {
		steps = 1
	}

	p.mu.Lock()
	fromX, fromY := p.mouseX, p.mouseY
	p.mu.Unlock()

	err := runIn(ctx, p.ctx, chromedp.ActionFunc(func(c context.Context) error {
		for i := 1; i <= steps; i++ {
			t := float64(i) / float64(steps)
			px := fromX + (x-fromX)*t
			py := fromY + (y-fromY)*t
			if err := chromedp.MouseEvent(input.MouseMoved, px, py).Do(c); err != nil {
				return err
			}
			if err := sleepContext(c, 8*time.Millisecond); err != nil {
				return err
			}
		}
		return nil
	}))
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.mouseX, p.mouseY = x, y
	p.mu.Unlock()
	return nil
}

func (p *chromePage) ScrollBy(ctx context.Context, dy int) error {
	var ok bool
	return runIn(ctx, p.ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d); true", dy), &ok))
}

// Close closes the tab. The initial tab lives as long as the session.
func (p *chromePage) Close() error {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	return nil
}

// chromeElement is a selector, optionally scoped to an iframe
type chromeElement struct {
	page     *chromePage
	selector string
	frame    *cdp.Node
}

func (e *chromeElement) queryOptions(extra ...chromedp.QueryOption) []chromedp.QueryOption {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if e.frame != nil {
		opts = append(opts, chromedp.FromNode(e.frame))
	}
	return append(opts, extra...)
}

func (e *chromeElement) WaitVisible(ctx context.Context) error {
	return runIn(ctx, e.page.ctx, chromedp.WaitVisible(e.selector, e.queryOptions()...))
}

// Hover scrolls the element into view and moves the pointer to its center
func (e *chromeElement) Hover(ctx context.Context) error {
	var nodes []*cdp.Node
	var x, y float64

	err := runIn(ctx, e.page.ctx,
		chromedp.Nodes(e.selector, &nodes, e.queryOptions(chromedp.NodeVisible)...),
		chromedp.ActionFunc(func(c context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no node matches %s", e.selector)
			}
			id := nodes[0].BackendNodeID
			if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(c); err != nil {
				return err
			}
			quads, err := dom.GetContentQuads().WithBackendNodeID(id).Do(c)
			if err != nil {
				return err
			}
			if len(quads) == 0 || len(quads[0]) < 8 {
				return fmt.Errorf("element %s has no box", e.selector)
			}
			q := quads[0]
			x = (q[0] + q[2] + q[4] + q[6]) / 4
			y = (q[1] + q[3] + q[5] + q[7]) / 4
			return chromedp.MouseEvent(input.MouseMoved, x, y).Do(c)
		}),
	)
	if err != nil {
		return err
	}

	e.page.mu.Lock()
	e.page.mouseX, e.page.mouseY = x, y
	e.page.mu.Unlock()
	return nil
}

func (e *chromeElement) Click(ctx context.Context) error {
	return runIn(ctx, e.page.ctx, chromedp.Click(e.selector, e.queryOptions(chromedp.NodeVisible)...))
}

// runIn runs actions on the chromedp target behind tab, bounded by ctx.
// chromedp requires the target context itself, so the caller's deadline and
// cancellation are carried over to a child of tab.
func runIn(ctx, tab context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tab)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// startTarget performs the first Run on a chromedp context. That Run binds
// the target's lifetime to its context, so it cannot carry a timeout; the
// caller gives up waiting instead and cancels the target.
func startTarget(ctx, tab context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tab)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toCookieParam(c models.SessionCookie) *network.CookieParam {
	param := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if !c.IsSession() {
		expires := cdp.TimeSinceEpoch(c.ExpiresAt())
		param.Expires = &expires
	}
	switch c.SameSite {
	case "Strict":
		param.SameSite = network.CookieSameSiteStrict
	case "Lax":
		param.SameSite = network.CookieSameSiteLax
	case "None":
		param.SameSite = network.CookieSameSiteNone
	}
	return param
}

func fromNetworkCookie(c *network.Cookie) models.SessionCookie {
	cookie := models.SessionCookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: models.NormalizeSameSite(string(c.SameSite)),
	}
	if c.Session {
		cookie.Expires = -1
	}
	return cookie
}
