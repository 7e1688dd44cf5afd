package assistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"apphub.local/matrix-bots/internal/appcontext"
)

const closingDirective = "Be helpful, concise, and actionable. Ground your answers in the app data above when it is relevant, " +
	"say so plainly when you do not know something, and suggest concrete next steps the user can take in the app."

// BuildSystemPrompt renders the system prompt for one app instance. The output
// depends only on its inputs; map keys are emitted in sorted order.
func BuildSystemPrompt(data appcontext.Data, instanceID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the App Hub assistant, an AI that works across the hub on behalf of the app instance %q.\n", instanceID)
	b.WriteString("Answer questions about this app and help the user get things done with it.\n\n")

	fmt.Fprintf(&b, "App: %s\n", data.AppName)
	fmt.Fprintf(&b, "Domain: %s\n", data.AppDomain)
	if len(data.Capabilities) == 0 {
		b.WriteString("Capabilities: none listed\n")
	} else {
		b.WriteString("Capabilities:\n")
		for _, capability := range data.Capabilities {
			fmt.Fprintf(&b, "- %s\n", capability)
		}
	}

	if len(data.CurrentData) > 0 {
		b.WriteString("\nCurrent app data:\n")
		b.WriteString(renderCurrentData(data.CurrentData))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(closingDirective)
	return b.String()
}

func renderCurrentData(current map[string]any) string {
	encoded, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", current)
	}
	return string(encoded)
}
