package souschef

import (
	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/option"
)

// DefaultOptionNames lists the universal default options in a stable order.
// Every sous chef exposes these regardless of its declared options, so every
// recipe shares the same baseline configuration surface. In a recipe these
// live at the top level, not inside options.
var DefaultOptionNames = []string{
	"name", "slug", "description", "time_of_day", "interval", "crontab",
}

// DefaultOptions returns a fresh copy of the universal default option specs.
// Declared options with the same name win during the descriptor merge.
func DefaultOptions() map[string]model.OptionSpec {
	return map[string]model.OptionSpec{
		"name": {
			InputType:  model.InputText,
			ValueTypes: []option.Type{option.TypeString},
			Help:       model.Help{Description: "A display name for this recipe."},
		},
		"slug": {
			InputType:  model.InputText,
			ValueTypes: []option.Type{option.TypeString},
			Help:       model.Help{Description: "A URL-safe identifier. Generated when omitted."},
		},
		"description": {
			InputType:  model.InputText,
			ValueTypes: []option.Type{option.TypeString},
			Help:       model.Help{Description: "What this recipe does."},
		},
		"time_of_day": {
			InputType:  model.InputSelect,
			ValueTypes: []option.Type{option.TypeString, option.TypeNull},
			Help:       model.Help{Description: "Run daily at this 24h clock time, e.g. 05:30."},
		},
		"interval": {
			InputType:  model.InputNumber,
			ValueTypes: []option.Type{option.TypeNumeric, option.TypeNull},
			Help:       model.Help{Description: "Run every N seconds."},
		},
		"crontab": {
			InputType:  model.InputText,
			ValueTypes: []option.Type{option.TypeCrontab, option.TypeNull},
			Help:       model.Help{Description: "Run on a 5-field cron expression."},
		},
	}
}

// IsDefaultOption reports whether name is a universal default option.
func IsDefaultOption(name string) bool {
	for _, n := range DefaultOptionNames {
		if n == name {
			return true
		}
	}
	return false
}
