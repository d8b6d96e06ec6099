package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/easyso/easyso/internal/httpkit"
)

func TestTavilySearch(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tvly-test" {
			t.Errorf("Authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"query":"weather in istanbul","answer":"Sunny.","results":[
			{"title":"A","url":"https://a.test","content":"a","raw_content":"full a","score":0.9},
			{"title":"B","url":"https://b.test","content":"b","score":0.5},
			{"title":"C","url":"https://c.test","content":"c","score":0.1}]}`)
	}))
	defer srv.Close()

	tv := NewTavily("tvly-test", srv.URL, nil)
	resp, err := tv.Search(context.Background(), "weather in istanbul", Options{
		Count: 2, IncludeAnswer: true, IncludeRawContent: true, Depth: "basic",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := tavilyRequest{Query: "weather in istanbul", MaxResults: 2, SearchDepth: "basic", IncludeAnswer: true, IncludeRawContent: true}
	if got != want {
		t.Errorf("request = %+v, want %+v", got, want)
	}
	if resp.Answer != "Sunny." || len(resp.Results) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Results[0].RawContent != "full a" || resp.Results[0].Score != 0.9 {
		t.Errorf("first result = %+v", resp.Results[0])
	}
}

func TestTavilyRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"results":[{"title":"ok","url":"https://ok.test"}]}`)
	}))
	defer srv.Close()

	tv := NewTavily("tvly-test", srv.URL, nil)
	tv.retryDelay = time.Millisecond

	resp, err := tv.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if calls.Load() != 3 || len(resp.Results) != 1 {
		t.Errorf("calls = %d, results = %d", calls.Load(), len(resp.Results))
	}
}

func TestTavilyGivesUpOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tv := NewTavily("tvly-test", srv.URL, nil)
	tv.retryDelay = time.Millisecond

	_, err := tv.Search(context.Background(), "q", Options{})
	var se *httpkit.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != tavilyMaxAttempts {
		t.Errorf("calls = %d, want %d", calls.Load(), tavilyMaxAttempts)
	}
}

func TestTavilyMissingKey(t *testing.T) {
	_, err := NewTavily("", "", nil).Search(context.Background(), "q", Options{})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v", err)
	}
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "brave-key" {
			t.Errorf("missing subscription token")
		}
		if r.URL.Query().Get("count") != "3" {
			t.Errorf("count = %q", r.URL.Query().Get("count"))
		}
		fmt.Fprint(w, `{"query":{"original":"go"},"web":{"results":[{"title":"Go","url":"https://go.dev","description":"The Go language","extra_snippets":["one","two"]}]}}`)
	}))
	defer srv.Close()

	resp, err := NewBrave("brave-key", srv.URL).Search(context.Background(), "go", Options{Count: 3, IncludeRawContent: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Snippet != "The Go language" || resp.Results[0].RawContent != "one\ntwo" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSearXNGSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			t.Errorf("unexpected request %s", r.URL)
		}
		fmt.Fprint(w, `{"query":"go","answers":["A language."],"results":[
			{"title":"1","url":"https://1.test"},{"title":"2","url":"https://2.test"},{"title":"3","url":"https://3.test"}]}`)
	}))
	defer srv.Close()

	resp, err := NewSearXNG(srv.URL+"/").Search(context.Background(), "go", Options{Count: 2, IncludeAnswer: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 || resp.Answer != "A language." {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSearXNGStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewSearXNG(srv.URL).Search(context.Background(), "go", Options{})
	if !httpkit.IsTransient(err) {
		t.Errorf("502 should be transient, got %v", err)
	}
}
