package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultFetchLimit = 32 << 20 // 32 MiB

// Multiplexer converts a heterogeneous input list into an ordered sequence
// of Parts. The zero value is not usable; call NewMultiplexer.
type Multiplexer struct {
	client     *http.Client
	fetchLimit int64
}

// MultiplexerOption configures a Multiplexer.
type MultiplexerOption func(*Multiplexer)

// WithHTTPClient overrides the client used to fetch URL inputs.
func WithHTTPClient(client *http.Client) MultiplexerOption {
	return func(m *Multiplexer) {
		m.client = client
	}
}

// WithFetchLimit caps the size of fetched remote resources in bytes.
func WithFetchLimit(limit int64) MultiplexerOption {
	return func(m *Multiplexer) {
		m.fetchLimit = limit
	}
}

// NewMultiplexer creates a content multiplexer.
func NewMultiplexer(opts ...MultiplexerOption) *Multiplexer {
	m := &Multiplexer{
		client:     &http.Client{Timeout: 60 * time.Second},
		fetchLimit: defaultFetchLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Normalize converts inputs into ordered Parts. Classification rules:
//
//   - string        → text, verbatim
//   - Path          → read and classified by MIME
//   - URL           → fetched and classified by MIME
//   - []byte        → classified by MIME sniffing
//   - Part / []Part → passed through unchanged
//   - anything else → JSON-serialized and wrapped as labeled text
//
// A nil input or an unreadable path/URL is a descriptive error; no input is
// ever silently dropped.
func (m *Multiplexer) Normalize(ctx context.Context, inputs ...any) ([]Part, error) {
	parts := make([]Part, 0, len(inputs))
	for i, in := range inputs {
		switch v := in.(type) {
		case nil:
			return nil, fmt.Errorf("input %d: nil content", i)
		case string:
			parts = append(parts, Text(v))
		case Part:
			parts = append(parts, v)
		case []Part:
			parts = append(parts, v...)
		case Path:
			p, err := m.fromPath(string(v))
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
			parts = append(parts, p)
		case URL:
			p, err := m.fromURL(ctx, string(v))
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
			parts = append(parts, p)
		case []byte:
			p, err := partFromBytes("", v)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
			parts = append(parts, p)
		default:
			parts = append(parts, wrapValue(v))
		}
	}
	return parts, nil
}

func (m *Multiplexer) fromPath(path string) (Part, error) {
	data, err := os.ReadFile(path) // #nosec G304 - caller-supplied content path
	if err != nil {
		return Part{}, fmt.Errorf("read %s: %w", path, err)
	}
	return partFromBytes(filepath.Base(path), data)
}

func (m *Multiplexer) fromURL(ctx context.Context, rawURL string) (Part, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Part{}, fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Part{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Part{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.fetchLimit+1))
	if err != nil {
		return Part{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if int64(len(data)) > m.fetchLimit {
		return Part{}, fmt.Errorf("fetch %s: exceeds %d byte limit", rawURL, m.fetchLimit)
	}

	name := filepath.Base(req.URL.Path)
	if ct := resp.Header.Get("Content-Type"); ct != "" && filepath.Ext(name) == "" {
		// No usable extension; trust the server's declared type when present.
		return partFromDeclared(name, data, ct)
	}
	return partFromBytes(name, data)
}

func partFromDeclared(name string, data []byte, contentType string) (Part, error) {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	switch {
	case imageMIMEs[contentType]:
		p := Image(data, contentType)
		p.Name = name
		return p, nil
	case contentType == "application/pdf":
		return PDF(data, name), nil
	}
	return partFromBytes(name, data)
}
