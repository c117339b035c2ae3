// ABOUTME: Immutable registry of supported document conversions
// ABOUTME: Maps (source, target) format pairs to backend capabilities in menu order

package catalog

import (
	"fmt"
	"strings"
)

// Format is a normalized file extension such as "docx".
type Format string

// String returns the format as a plain string.
func (f Format) String() string { return string(f) }

// Label returns the uppercased form shown on buttons ("PDF").
func (f Format) Label() string { return strings.ToUpper(string(f)) }

// FormatFromFilename returns the lowercased text after the last '.' in name.
// Returns "" when name has no extension.
func FormatFromFilename(name string) Format {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return Format(strings.ToLower(strings.TrimSpace(name[i+1:])))
}

// ParseFormat normalizes user or payload supplied format text.
func ParseFormat(s string) Format {
	return Format(strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "."))))
}

// Key is a directional conversion pair; docx->pdf and pdf->docx differ.
type Key struct {
	Source Format
	Target Format
}

func (k Key) String() string {
	return fmt.Sprintf("%s->%s", k.Source, k.Target)
}

// Capability identifies the backend operation performing one conversion.
type Capability struct {
	ID   string // stable identifier, e.g. "docx->pdf"
	Path string // backend endpoint path, e.g. "/convert/docx/to/pdf"
}

// Entry declares one supported conversion.
type Entry struct {
	Key        Key
	Capability Capability
}

// Catalog is a read-only conversion table.
type Catalog struct {
	entries map[Key]Capability
	targets map[Format][]Format
	sources []Format
}

// New builds a catalog from entries. Target order per source and source
// order follow the order of entries. Duplicate keys and empty formats are
// rejected.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		entries: make(map[Key]Capability, len(entries)),
		targets: make(map[Format][]Format),
	}
	for _, e := range entries {
		if e.Key.Source == "" || e.Key.Target == "" {
			return nil, fmt.Errorf("catalog entry %q has an empty format", e.Key)
		}
		if _, dup := c.entries[e.Key]; dup {
			return nil, fmt.Errorf("duplicate catalog entry %q", e.Key)
		}
		if e.Capability.ID == "" {
			e.Capability.ID = e.Key.String()
		}
		c.entries[e.Key] = e.Capability
		if _, seen := c.targets[e.Key.Source]; !seen {
			c.sources = append(c.sources, e.Key.Source)
		}
		c.targets[e.Key.Source] = append(c.targets[e.Key.Source], e.Key.Target)
	}
	return c, nil
}

// Lookup returns the capability for source->target. Absence is not an error.
func (c *Catalog) Lookup(source, target Format) (Capability, bool) {
	capability, ok := c.entries[Key{Source: source, Target: target}]
	return capability, ok
}

// Supports reports whether any conversion starts from source.
func (c *Catalog) Supports(source Format) bool {
	_, ok := c.targets[source]
	return ok
}

// SupportedTargets returns the targets for source in declaration order.
// The returned slice is a copy.
func (c *Catalog) SupportedTargets(source Format) []Format {
	targets := c.targets[source]
	out := make([]Format, len(targets))
	copy(out, targets)
	return out
}

// Sources returns every source format in declaration order.
func (c *Catalog) Sources() []Format {
	out := make([]Format, len(c.sources))
	copy(out, c.sources)
	return out
}

// Len returns the number of supported conversions.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// endpoint builds the backend path for a conversion. The backend names
// Keynote files "keynote" rather than by their extension.
func endpoint(source, target Format) string {
	segment := string(source)
	if source == "key" {
		segment = "keynote"
	}
	return fmt.Sprintf("/convert/%s/to/%s", segment, target)
}

// defaultTable lists each source with its targets in menu order.
var defaultTable = []struct {
	source  Format
	targets []Format
}{
	{"doc", []Format{"pdf", "docx", "txt"}},
	{"odt", []Format{"pdf", "docx"}},
	{"docx", []Format{"pdf", "doc", "txt", "html"}},
	{"ods", []Format{"pdf", "xlsx"}},
	{"xls", []Format{"pdf", "xlsx", "csv"}},
	{"xlsx", []Format{"pdf", "xls", "csv", "txt", "html"}},
	{"ppt", []Format{"pdf", "pptx"}},
	{"pptx", []Format{"pdf", "ppt", "txt"}},
	{"odp", []Format{"pdf", "pptx"}},
	{"key", []Format{"pdf", "pptx"}},
	{"pdf", []Format{"docx", "pptx", "txt"}},
}

// DefaultEntries returns the built-in conversion table.
func DefaultEntries() []Entry {
	var entries []Entry
	for _, row := range defaultTable {
		for _, target := range row.targets {
			key := Key{Source: row.source, Target: target}
			entries = append(entries, Entry{
				Key:        key,
				Capability: Capability{ID: key.String(), Path: endpoint(row.source, target)},
			})
		}
	}
	return entries
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultEntries())
	if err != nil {
		panic(fmt.Sprintf("catalog: invalid default table: %v", err))
	}
	return c
}
