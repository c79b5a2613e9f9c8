package schemas

// -- Generation capability --
// Types exchanged between the page analyzer and the AI providers that
// synthesize test units.

// PageElement is one interactable element surfaced by the page analyzer.
type PageElement struct {
	Tag      string            `json:"tag"`
	Type     string            `json:"type,omitempty"`
	Name     string            `json:"name,omitempty"`
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text,omitempty"`
	Selector string            `json:"selector"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// PageForm groups the inputs of a single <form>.
type PageForm struct {
	Action  string        `json:"action"`
	Method  string        `json:"method"`
	Inputs  []PageElement `json:"inputs"`
	IsLogin bool          `json:"is_login"`
}

// PageAnalysis is the structural summary of a page handed to the providers.
type PageAnalysis struct {
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	PageType   string        `json:"page_type"`
	Forms      []PageForm    `json:"forms"`
	Links      []PageElement `json:"links"`
	Navigation []PageElement `json:"navigation"`
	HasLogin   bool          `json:"has_login"`
}

// GenerationRequest asks a provider for one test unit of a given category.
type GenerationRequest struct {
	Analysis PageAnalysis `json:"analysis"`
	Category Category     `json:"category"`
	Username string       `json:"username,omitempty"`
	Password string       `json:"password,omitempty"`
}
