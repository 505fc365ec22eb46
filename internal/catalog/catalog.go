// Package catalog describes the actions a plan may reference: which side owns
// each step and what shape its model output takes.
package catalog

import (
	"fmt"
	"strings"
)

// Side tells the orchestrator who executes a step.
type Side string

const (
	Local               Side = "LOCAL"
	ExternalIntegration Side = "EXTERNAL_INTEGRATION"
)

// Returns is the expected shape of a local step's model output.
type Returns string

const (
	Text Returns = "TEXT"
	JSON Returns = "JSON"
)

// Entry is the metadata for one plan step.
type Entry struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Side        Side    `json:"side" yaml:"side"`
	Returns     Returns `json:"returns" yaml:"returns"`
}

// Normalized trims the name and upper-cases the enum fields.
func (e Entry) Normalized() Entry {
	e.Name = strings.TrimSpace(e.Name)
	e.Description = strings.TrimSpace(e.Description)
	e.Side = Side(strings.ToUpper(strings.TrimSpace(string(e.Side))))
	e.Returns = Returns(strings.ToUpper(strings.TrimSpace(string(e.Returns))))
	if e.Returns == "" {
		e.Returns = Text
	}
	return e
}

// Validate checks a normalized entry.
func (e Entry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("catalog: entry name is required")
	}
	if strings.ContainsAny(e.Name, " \t\n") {
		return fmt.Errorf("catalog: entry name %q contains whitespace", e.Name)
	}
	switch e.Side {
	case Local, ExternalIntegration:
	default:
		return fmt.Errorf("catalog: entry %s has unknown side %q", e.Name, e.Side)
	}
	switch e.Returns {
	case Text, JSON:
	default:
		return fmt.Errorf("catalog: entry %s has unknown return shape %q", e.Name, e.Returns)
	}
	return nil
}

// UnknownStepError is returned when a plan names a step the catalog lacks.
type UnknownStepError struct {
	Step string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("unknown plan step %q", e.Step)
}

// Catalog is an immutable step table, safe for concurrent readers.
type Catalog struct {
	entries map[string]Entry
	order   []string
}

// New validates entries and builds a catalog preserving their order.
func New(entries ...Entry) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, raw := range entries {
		e := raw.Normalized()
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.entries[e.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate entry %s", e.Name)
		}
		c.entries[e.Name] = e
		c.order = append(c.order, e.Name)
	}
	return c, nil
}

// Lookup resolves a step name.
func (c *Catalog) Lookup(step string) (Entry, error) {
	if c != nil {
		if e, ok := c.entries[step]; ok {
			return e, nil
		}
	}
	return Entry{}, &UnknownStepError{Step: step}
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Entries returns a copy of the entries in catalog order.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name])
	}
	return out
}

// Describe renders entries as a bullet list for planning prompts.
func Describe(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", e.Name, e.Description)
		if e.Side == ExternalIntegration {
			b.WriteString(" (handled by the search integration)")
		}
	}
	return b.String()
}
