// Package badge renders shields.io endpoint badges for provider lookups.
package badge

// SchemaVersion is the only shields.io endpoint schema version.
const SchemaVersion = 1

// NamedLogo is the simple-icons logo shown on every badge.
const NamedLogo = "wasmcloud"

// FallbackMessage is shown for providers with no stored reference.
const FallbackMessage = "Provider not yet published"

// Badge colors.
const (
	ColorPublished = "#97CA00"
	ColorPending   = "#9F9F9F"
)

// Descriptor is the JSON body shields.io expects from an endpoint badge.
type Descriptor struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Color         string `json:"color"`
	NamedLogo     string `json:"namedLogo"`
}

// Render builds a label-less badge showing message in color.
func Render(message, color string) Descriptor {
	return Descriptor{
		SchemaVersion: SchemaVersion,
		Message:       message,
		Color:         color,
		NamedLogo:     NamedLogo,
	}
}

// ForURL renders the published badge for url, or the fallback badge when
// url is empty.
func ForURL(url string) Descriptor {
	if url == "" {
		return Render(FallbackMessage, ColorPending)
	}
	return Render(url, ColorPublished)
}
