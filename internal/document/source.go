package document

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

var ErrNoSource = errors.New("document source has no url or file")

// Source produces the current rendering of a page. Each Load returns a
// fresh document; nothing is cached between calls.
type Source interface {
	Load(ctx context.Context) (Document, error)
}

// HTTPSource fetches the page HTML over HTTP
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource returns a source with a bounded client timeout
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Load(ctx context.Context) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", s.URL, resp.StatusCode)
	}
	return Parse(resp.Body, s.URL)
}

// FileSource reads a saved page from disk
type FileSource struct {
	Path string
}

func (s *FileSource) Load(ctx context.Context) (Document, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, "file://"+s.Path)
}

// StaticSource serves an in-memory page that can be swapped at runtime
type StaticSource struct {
	mu   sync.RWMutex
	html string
	url  string
}

func NewStaticSource(url, html string) *StaticSource {
	return &StaticSource{url: url, html: html}
}

// Set replaces the page served by later loads
func (s *StaticSource) Set(html string) {
	s.mu.Lock()
	s.html = html
	s.mu.Unlock()
}

func (s *StaticSource) Load(ctx context.Context) (Document, error) {
	s.mu.RLock()
	html, url := s.html, s.url
	s.mu.RUnlock()
	doc, err := ParseString(html)
	if err != nil {
		return nil, err
	}
	if d, ok := doc.(*htmlDocument); ok {
		d.url = url
	}
	return doc, nil
}

// NewSource picks a file or HTTP source
func NewSource(url, file string, timeout time.Duration) (Source, error) {
	switch {
	case file != "":
		return &FileSource{Path: file}, nil
	case url != "":
		return NewHTTPSource(url, timeout), nil
	default:
		return nil, ErrNoSource
	}
}
