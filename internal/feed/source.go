package feed

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"busmap/pkg/amanaapi"
)

// HTTPSource polls the operator's published document.
type HTTPSource struct {
	client  *amanaapi.Client
	decoder *Decoder
}

func NewHTTPSource(client *amanaapi.Client, decoder *Decoder) *HTTPSource {
	return &HTTPSource{client: client, decoder: decoder}
}

func (s *HTTPSource) Load(ctx context.Context) (*Result, error) {
	doc, err := s.client.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching transit document: %w", err)
	}
	return s.decoder.Decode(doc)
}

func (s *HTTPSource) Polls() bool { return true }

// MockSource serves a fixed document: a fixture file when a path is given,
// the built-in Kuala Lumpur lines otherwise.
type MockSource struct {
	path    string
	decoder *Decoder
}

func NewMockSource(path string, decoder *Decoder) *MockSource {
	return &MockSource{path: path, decoder: decoder}
}

func (s *MockSource) Load(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.path == "" {
		return s.decoder.Decode(BuiltinDocument())
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	doc, err := ParseFixture(data)
	if err != nil {
		return nil, err
	}
	return s.decoder.Decode(doc)
}

func (s *MockSource) Polls() bool { return false }

// ParseFixture decodes a YAML or JSON fixture document.
func ParseFixture(data []byte) (*amanaapi.Document, error) {
	var doc amanaapi.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &doc, nil
}
