package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/easyso/easyso/internal/httpkit"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title> Istanbul Weather </title><style>.x{}</style></head>
<body>
<header>Site header</header>
<nav>Home | About</nav>
<script>var tracking = 1;</script>
<main>
<h1>Forecast</h1>
<p>Sunny with a <strong>high of 24C</strong>.</p>
<ul><li>Wind: light</li><li>Humidity: 40%</li></ul>
</main>
<aside>Related links</aside>
<footer>Copyright</footer>
</body>
</html>`

func TestExtractHTML(t *testing.T) {
	title, content := extractHTML(samplePage)

	if title != "Istanbul Weather" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"Forecast", "high of 24C", "Wind: light"} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q:\n%s", want, content)
		}
	}
	for _, unwanted := range []string{"tracking", "Home | About", "Copyright", "Site header", "Related links"} {
		if strings.Contains(content, unwanted) {
			t.Errorf("content should not contain %q", unwanted)
		}
	}
}

func TestExtractHTML_NoMain(t *testing.T) {
	_, content := extractHTML(`<html><body><div>Alpha</div><p>Beta</p><footer>x</footer></body></html>`)
	if content != "Alpha\n\nBeta" {
		t.Errorf("content = %q", content)
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "easyso/") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(samplePage))
	}))
	defer ts.Close()

	page, err := New(0, nil).Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "Istanbul Weather" || page.StatusCode != 200 {
		t.Errorf("page = %+v", page)
	}
	if page.Truncated {
		t.Error("small page should not be truncated")
	}
}

func TestFetchPlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("  just text \n"))
	}))
	defer ts.Close()

	page, err := New(0, nil).Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Content != "just text" {
		t.Errorf("content = %q", page.Content)
	}
}

func TestFetchTruncatesOnRunes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(strings.Repeat("ş", 50)))
	}))
	defer ts.Close()

	f := New(20, nil)
	page, err := f.Fetch(context.Background(), ts.URL, 100)
	if err != nil {
		t.Fatal(err)
	}
	if page.Content != strings.Repeat("ş", 20) || !page.Truncated {
		t.Errorf("content = %q (truncated=%v), want 20 runes capped by the fetcher", page.Content, page.Truncated)
	}
}

func TestFetchStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, err := New(0, nil).Fetch(context.Background(), ts.URL, 0)
	if err == nil || httpkit.IsTransient(err) {
		t.Errorf("404 should be a permanent error, got %v", err)
	}
}

func TestCleanWhitespace(t *testing.T) {
	got := cleanWhitespace("  a   b \n\n\n\n c\t d  ")
	if got != "a b\n\nc d" {
		t.Errorf("got %q", got)
	}
}

func TestToolHandler(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	defer ts.Close()

	out, err := ToolHandler(New(0, nil))(context.Background(), map[string]any{"url": ts.URL})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Title: Istanbul Weather\nURL: ") {
		t.Errorf("output = %q", out)
	}

	if _, err := ToolHandler(New(0, nil))(context.Background(), map[string]any{}); err == nil {
		t.Error("missing url should fail")
	}
}
