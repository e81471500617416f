package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (U001-U019)
	// ============================================

	"U001": {
		Category: CategoryConfig,
		Message:  "Config file unreadable",
		Detail:   "The configuration file could not be opened. Check the path passed with --config.",
	},
	"U002": {
		Category: CategoryConfig,
		Message:  "Invalid config YAML",
		Detail:   "The configuration file is not valid YAML or has a field of the wrong type.",
	},
	"U003": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A configuration value is out of range. Durations must be positive and the rate limit factor must not be negative.",
	},
	"U004": {
		Category: CategoryConfig,
		Message:  "Invalid environment override",
		Detail:   "A URLSYNC_* environment variable could not be parsed.",
	},

	// ============================================
	// Scenario Errors (U020-U039)
	// ============================================

	"U020": {
		Category: CategoryScenario,
		Message:  "Scenario file unreadable",
		Detail:   "The scenario file could not be opened or is not valid YAML.",
	},
	"U021": {
		Category: CategoryScenario,
		Message:  "Unknown scenario step",
		Detail:   "Each step must be exactly one of: set, delete, increment, advance, back, unmount.",
	},
	"U022": {
		Category: CategoryScenario,
		Message:  "Invalid scenario step",
		Detail:   "The step is missing a required field or has a value of the wrong type.",
	},
	"U023": {
		Category: CategoryScenario,
		Message:  "Invalid start URL",
		Detail:   "The scenario's url field has a malformed query string.",
	},
	"U024": {
		Category: CategoryScenario,
		Message:  "Write rejected",
		Detail:   "The sync engine rejected a write, usually because an updater failed or the engine was unmounted.",
	},

	// ============================================
	// Transport Errors (U040-U059)
	// ============================================

	"U040": {
		Category: CategoryTransport,
		Message:  "Server failed",
		Detail:   "The HTTP server stopped with an error. The address may already be in use.",
	},

	// ============================================
	// CLI Errors (U060-U079)
	// ============================================

	"U060": {
		Category: CategoryCLI,
		Message:  "Invalid arguments",
		Detail:   "The command was called with missing or extra arguments.",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
