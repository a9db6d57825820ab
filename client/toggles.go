package client

import (
	"log"
	"strings"

	"github.com/yeyu-labs/chatlink/messages"
)

// RequestToggle asks the backend to flip a feature flag. Local state only
// changes on the ack. Enabling the Gemini or eval toggles without a
// confirmed credential short-circuits into the credential prompt instead of
// hitting the backend with a request that will be rejected.
func (e *Engine) RequestToggle(name string, enabled bool) error {
	if enabled && (name == messages.ToggleGemini || name == messages.ToggleEval) && !e.APIKeyConfirmed() {
		log.Printf("🔑 Toggle %q needs a confirmed API key first.", name)
		e.prompt(true)
		return nil
	}
	log.Printf("📤 Requesting toggle %q -> %v", name, enabled)
	return e.send(messages.NewUpdateToggleState(name, enabled))
}

// SubmitAPIKey sends a credential for backend validation. Confirmation
// arrives as an api_key_set_ack.
func (e *Engine) SubmitAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	log.Println("📤 Submitting API key for validation.")
	return e.send(messages.NewSetAPIKey("gemini", key))
}
