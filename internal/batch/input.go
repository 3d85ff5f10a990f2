package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agentoven/agentoven/rootcause/internal/discovery"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// inputCase accepts both the competition field name and a plain one.
type inputCase struct {
	UUID               string `json:"uuid"`
	AnomalyDescription string `json:"Anomaly Description"`
	Description        string `json:"description"`
}

// LoadCases reads a JSON array of cases from path. With limit > 0 only the
// first limit cases are returned, in input order. Anomaly windows are
// parsed from the descriptions.
func LoadCases(path string, limit int) ([]models.Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return ParseCases(data, limit)
}

// ParseCases decodes cases from a JSON array.
func ParseCases(data []byte, limit int) ([]models.Case, error) {
	var raw []inputCase
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if limit > 0 && limit < len(raw) {
		raw = raw[:limit]
	}

	seen := make(map[string]bool, len(raw))
	cases := make([]models.Case, 0, len(raw))
	for i, in := range raw {
		id := strings.TrimSpace(in.UUID)
		if id == "" {
			return nil, fmt.Errorf("parse input: case %d has no uuid", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("parse input: duplicate uuid %q", id)
		}
		seen[id] = true

		desc := in.AnomalyDescription
		if desc == "" {
			desc = in.Description
		}
		c := models.Case{UUID: id, Description: desc}
		if start, end, ok := discovery.ParseWindow(desc); ok {
			c.Start, c.End = start, end
		}
		cases = append(cases, c)
	}
	return cases, nil
}
