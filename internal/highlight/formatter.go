package highlight

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Formatter describes one output formatter.
type Formatter struct {
	// Name is the formatter class name without the "Formatter" suffix.
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
}

// UnmarshalJSON decodes the worker's [class, description, aliases] tuple.
func (f *Formatter) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("decode formatter: %w", err)
	}
	if len(tuple) != 3 {
		return fmt.Errorf("decode formatter: want 3 fields, got %d", len(tuple))
	}

	var out Formatter
	if err := json.Unmarshal(tuple[0], &out.Name); err != nil {
		return fmt.Errorf("decode formatter name: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &out.Description); err != nil {
		return fmt.Errorf("decode formatter description: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &out.Aliases); err != nil {
		return fmt.Errorf("decode formatter aliases: %w", err)
	}
	out.Name = strings.TrimSuffix(out.Name, "Formatter")
	*f = out
	return nil
}
