// Package webhook turns Azure Container Registry push events into references.
package webhook

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stacklok/ociref-server/internal/reference"
)

// ErrMalformedEvent is returned for bodies that are not JSON or lack one of
// target.repository, target.tag and request.host.
var ErrMalformedEvent = errors.New("malformed registry event")

const schemaURL = "https://github.com/stacklok/ociref-server/schemas/acr-event.json"

//go:embed schema/acr-event.json
var schemaJSON []byte

// Event is an Azure Container Registry webhook payload. Only
// Target.Repository, Target.Tag and Request.Host are needed to build a
// reference; everything else is informational and may be absent.
type Event struct {
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp"`
	Action    string  `json:"action"`
	Target    Target  `json:"target"`
	Request   Request `json:"request"`
}

// Target describes the pushed artifact.
type Target struct {
	MediaType  string `json:"mediaType"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	Length     int64  `json:"length"`
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
}

// Request describes the push request as seen by the registry.
type Request struct {
	ID        string `json:"id"`
	Host      string `json:"host"`
	Method    string `json:"method"`
	UserAgent string `json:"useragent"`
}

// URL is the pushed image location, host/repository:tag. No scheme is added
// and nothing is case-folded.
func (e *Event) URL() string {
	return e.Request.Host + "/" + e.Target.Repository + ":" + e.Target.Tag
}

// Reference maps the event to the repository name and its image location.
func (e *Event) Reference() reference.Reference {
	return reference.Reference{Name: e.Target.Repository, URL: e.URL()}
}

// Normalizer validates and decodes webhook bodies. It is safe for concurrent use.
type Normalizer struct {
	schema *jsonschema.Schema
}

// NewNormalizer compiles the embedded event schema.
func NewNormalizer() (*Normalizer, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse event schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add event schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile event schema: %w", err)
	}

	return &Normalizer{schema: schema}, nil
}

// Parse validates body against the event schema and decodes it. Every error
// wraps ErrMalformedEvent.
func (n *Normalizer) Parse(body []byte) (*Event, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := n.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &event, nil
}

// Normalize parses body and returns the reference it announces.
func (n *Normalizer) Normalize(body []byte) (reference.Reference, error) {
	event, err := n.Parse(body)
	if err != nil {
		return reference.Reference{}, err
	}
	return event.Reference(), nil
}
