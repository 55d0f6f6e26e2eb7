package tier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTable reads a tier table from a YAML file.
//
// File format:
//
//	free:
//	  requests_per_minute: 3
//	  tokens_per_minute: 10000
//	  daily_requests: 50
//	  monthly_requests: 500
//	  daily_cost_usd: 1.0
//	  monthly_cost_usd: 10.0
//	  max_concurrent: 1
//	  priority: 1
//	pro:
//	  ...
func LoadTable(path string) (map[Tier]Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier file %q: %w", path, err)
	}

	var raw map[Tier]Limits
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse tier file %q: %w", path, err)
	}

	if err := ValidateTable(raw); err != nil {
		return nil, fmt.Errorf("tier file %q: %w", path, err)
	}

	return raw, nil
}
