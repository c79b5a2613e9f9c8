package generator

import (
	"encoding/json"
	"fmt"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

// systemPrompt frames every generation request. The contract with the model:
// one fenced JavaScript block, throw on assertion failure, set the
// unauthenticated flag when the page demands a login.
const systemPrompt = `You are a web test engineer. You write self-contained browser test scripts
in plain JavaScript that run inside the page via the DevTools protocol.

Rules:
- Reply with exactly one fenced code block (` + "```javascript" + `).
- The script must throw an Error with a descriptive message when the behavior
  under test is broken, and complete normally when it passes.
- If the page demands authentication the script cannot provide, set
  window.__autoplay_unauthenticated = true before throwing.
- No external libraries, no Node APIs, browser globals only.`

// buildUserPrompt renders the per-request prompt: the category under test,
// the structural page summary, and credentials for login units.
func buildUserPrompt(req schemas.GenerationRequest) (string, error) {
	analysisJSON, err := json.MarshalIndent(req.Analysis, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding page analysis: %w", err)
	}

	prompt := fmt.Sprintf(`Write a %s test for the page at %s.

Page analysis:
%s`, req.Category, req.Analysis.URL, analysisJSON)

	if req.Category == schemas.CategoryLogin && req.Username != "" {
		prompt += fmt.Sprintf(`

Log in with username %q and password %q, then verify the page reflects an
authenticated state.`, req.Username, req.Password)
	}
	return prompt, nil
}
