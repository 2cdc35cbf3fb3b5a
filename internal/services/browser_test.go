package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexconsult/cookie-refresher/internal/config"
	"github.com/nexconsult/cookie-refresher/internal/refresh"
)

const headerFrame = "mcom-header-footer"

func iframeNode(frameID cdp.FrameID, src string) *cdp.Node {
	return &cdp.Node{
		NodeName:   "IFRAME",
		FrameID:    frameID,
		Attributes: []string{"src", src},
	}
}

func TestMatchFrameUsesLiveDocumentURL(t *testing.T) {
	// The first frame was created for the header and then navigated away;
	// the second was created blank and then loaded the header.
	moved := iframeNode("F1", "https://mcom-header-footer.manheim.com/header")
	loaded := iframeNode("F2", "about:blank")

	tree := &page.FrameTree{
		Frame: &cdp.Frame{ID: "MAIN", URL: "https://www.manheim.com/"},
		ChildFrames: []*page.FrameTree{
			{Frame: &cdp.Frame{ID: "F1", ParentID: "MAIN", URL: "https://ads.example.com/slot"}},
			{Frame: &cdp.Frame{ID: "F2", ParentID: "MAIN", URL: "https://mcom-header-footer.manheim.com/header?v=2"}},
		},
	}

	got := matchFrame([]*cdp.Node{moved, loaded}, frameURLs(tree), headerFrame)
	assert.Same(t, loaded, got)
}

func TestMatchFrameUsesContentDocument(t *testing.T) {
	frame := iframeNode("", "")
	frame.ContentDocument = &cdp.Node{DocumentURL: "https://mcom-header-footer.manheim.com/header"}

	got := matchFrame([]*cdp.Node{frame}, nil, headerFrame)
	assert.Same(t, frame, got)
}

func TestMatchFrameFallsBackToSrc(t *testing.T) {
	frame := iframeNode("F9", "https://mcom-header-footer.manheim.com/header")

	got := matchFrame([]*cdp.Node{frame}, map[cdp.FrameID]string{}, headerFrame)
	assert.Same(t, frame, got)
}

func TestMatchFrameNoMatch(t *testing.T) {
	frame := iframeNode("F1", "https://mcom-header-footer.manheim.com/header")
	urls := map[cdp.FrameID]string{"F1": "https://ads.example.com/slot"}

	assert.Nil(t, matchFrame([]*cdp.Node{frame}, urls, headerFrame))
	assert.Nil(t, matchFrame(nil, urls, headerFrame))
}

func TestFrameURLsWalksNestedFrames(t *testing.T) {
	tree := &page.FrameTree{
		Frame: &cdp.Frame{ID: "MAIN", URL: "https://www.manheim.com/"},
		ChildFrames: []*page.FrameTree{{
			Frame: &cdp.Frame{ID: "A", URL: "https://a.example.com/"},
			ChildFrames: []*page.FrameTree{
				{Frame: &cdp.Frame{ID: "B", URL: "https://b.example.com/"}},
			},
		}},
	}

	assert.Equal(t, map[cdp.FrameID]string{
		"MAIN": "https://www.manheim.com/",
		"A":    "https://a.example.com/",
		"B":    "https://b.example.com/",
	}, frameURLs(tree))
	assert.Empty(t, frameURLs(nil))
}

// chromePath finds a local Chrome or skips the test
func chromePath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test skipped in short mode")
	}
	if path := os.Getenv("CHROME_PATH"); path != "" {
		return path
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome binary found")
	return ""
}

func TestPopupTabsGetPersona(t *testing.T) {
	execPath := chromePath(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tool" {
			fmt.Fprint(w, "<html><body><p>tool</p></body></html>")
			return
		}
		fmt.Fprint(w, `<html><body><button id="open" onclick="window.open('/tool')">Open</button></body></html>`)
	}))
	defer srv.Close()

	service := NewBrowserService(config.BrowserConfig{
		Headless:       true,
		ExecPath:       execPath,
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) RefresherTest/1.0",
		Locale:         "en-US",
		Timezone:       "Pacific/Auckland",
		ViewportWidth:  1280,
		ViewportHeight: 800,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := service.Launch(ctx, "")
	require.NoError(t, err)
	defer session.Close()

	home, err := session.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, home.Navigate(ctx, srv.URL+"/"))

	popups := session.WaitForPage(ctx, func(url string) bool { return strings.HasSuffix(url, "/tool") })

	button, err := home.Locate(ctx, "", "#open")
	require.NoError(t, err)
	require.NoError(t, button.Click(ctx))

	var popup refresh.Page
	select {
	case popup = <-popups:
	case <-ctx.Done():
		t.Fatal("popup never opened")
	}
	require.NotNil(t, popup)

	var timezone, userAgent string
	require.NoError(t, runIn(ctx, popup.(*chromePage).ctx,
		chromedp.Evaluate(`Intl.DateTimeFormat().resolvedOptions().timeZone`, &timezone),
		chromedp.Evaluate(`navigator.userAgent`, &userAgent),
	))
	assert.Equal(t, "Pacific/Auckland", timezone)
	assert.Contains(t, userAgent, "RefresherTest/1.0")
}
