package browser

import "fmt"

// Selectors locates the pieces of the AI Studio prompt UI the session
// drives. The defaults track the current DOM; they are grouped here so a
// UI change is a one-file fix.
type Selectors struct {
	PromptInput       string
	RunButton         string
	RunButtonIdle     string
	StopButton        string
	LastResponse      string
	ModelMenuTrigger  string
	ModelOption       string // takes the model id via ModelOptionFor
	ModelOptionAll    string
	NewChatButton     string
	ConfirmButton     string
	SettingsPanel     string
	TemperatureInput  string
	TopPInput         string
	MaxTokensInput    string
	StopSequenceInput string
}

// DefaultSelectors returns the selector set for the stock AI Studio UI.
func DefaultSelectors() Selectors {
	return Selectors{
		PromptInput:       "ms-prompt-input-wrapper textarea",
		RunButton:         "button[aria-label='Run']",
		RunButtonIdle:     "button[aria-label='Run']:not([disabled])",
		StopButton:        "button[aria-label='Stop']",
		LastResponse:      "ms-chat-turn:last-of-type .model-response-text",
		ModelMenuTrigger:  "ms-model-selector .mat-mdc-select-trigger",
		ModelOption:       "mat-option[data-model-id=%q]",
		ModelOptionAll:    "mat-option[data-model-id]",
		NewChatButton:     "button[aria-label='New chat']",
		ConfirmButton:     "mat-dialog-container button.confirm-button",
		SettingsPanel:     "ms-run-settings",
		TemperatureInput:  "ms-run-settings input[aria-label='Temperature']",
		TopPInput:         "ms-run-settings input[aria-label='Top P']",
		MaxTokensInput:    "ms-run-settings input[aria-label='Maximum output tokens']",
		StopSequenceInput: "ms-run-settings input[aria-label='Add stop sequence']",
	}
}

// ModelOptionFor returns the selector for one model's menu entry.
func (s Selectors) ModelOptionFor(modelID string) string {
	return fmt.Sprintf(s.ModelOption, modelID)
}
