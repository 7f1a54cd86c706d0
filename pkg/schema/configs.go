package schema

// Kind-specific config blocks. The validate tags are enforced by the workflow
// validator before a run is admitted.

// Navigate wait states.
const (
	WaitUntilPageLoaded       = "page_loaded"
	WaitUntilDOMReady         = "dom_ready"
	WaitUntilNetworkIdle      = "network_idle"
	WaitUntilResponseReceived = "response_received"
)

// NavigateConfig is the config block for navigate steps.
type NavigateConfig struct {
	URL       string `json:"url" validate:"nonblank"`
	WaitUntil string `json:"waitUntil" validate:"omitempty,oneof=page_loaded dom_ready network_idle response_received"`
}

// WaitConfig is the config block for wait steps.
type WaitConfig struct {
	Timeout float64 `json:"timeout" validate:"gte=0"` // seconds
}

// WaitElementConfig is the config block for wait_element steps.
type WaitElementConfig struct {
	Type    string  `json:"type" validate:"omitempty,oneof=visible exists"`
	XPath   string  `json:"xpath" validate:"nonblank"`
	Timeout float64 `json:"timeout" validate:"gte=0"`
}

// ScrollConfig is the config block for scroll steps.
type ScrollConfig struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

// ClickConfig is the config block for click steps.
type ClickConfig struct {
	XPath      string  `json:"xpath" validate:"nonblank"`
	Button     string  `json:"button" validate:"omitempty,oneof=left right middle"`
	ClickCount int     `json:"clickCount" validate:"gte=0"`
	Delay      float64 `json:"delay" validate:"gte=0"`
	Timeout    float64 `json:"timeout" validate:"gte=0"`
}

// FillConfig is the config block for fill steps. Value may contain
// {{variable}} placeholders.
type FillConfig struct {
	XPath   string  `json:"xpath" validate:"nonblank"`
	Value   *string `json:"value"`
	Clear   bool    `json:"clear"`
	Timeout float64 `json:"timeout" validate:"gte=0"`
}

// PressConfig is the config block for press steps. An empty XPath sends the
// key to the focused element.
type PressConfig struct {
	XPath string  `json:"xpath"`
	Key   string  `json:"key" validate:"nonblank"`
	Delay float64 `json:"delay" validate:"gte=0"`
}

// LogConfig is the config block for log steps.
type LogConfig struct {
	Target  string `json:"target"`
	Level   string `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Message string `json:"message"`
}

// ScriptConfig is the config block for script steps. When As is set the
// result (optionally reshaped by the JQ filter) is bound to that variable.
type ScriptConfig struct {
	Code string `json:"code" validate:"nonblank"`
	As   string `json:"as"`
	JQ   string `json:"jq"`
}

// ExtractTextConfig is the config block for extract_text steps.
type ExtractTextConfig struct {
	XPath string `json:"xpath" validate:"nonblank"`
	As    string `json:"as" validate:"nonblank"`
}
