// Package analyzer produces the structural page summary that drives test
// generation: forms with their inputs, links, navigation, and a coarse page
// classification.
package analyzer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

// navSelectors are the common markup patterns for site navigation, tried in
// order of specificity.
var navSelectors = []string{
	"nav a",
	"header a",
	`[role="navigation"] a`,
	".nav a",
	".navbar a",
	".menu a",
}

// loginInputMarkers flag a text input as a likely username field when no
// password field alone would settle it.
var loginInputMarkers = []string{"user", "email", "login", "account"}

// Analyzer parses rendered HTML into a PageAnalysis.
type Analyzer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("analyzer")}
}

// Analyze parses the document and summarizes its interactable structure.
// pageURL is the address the document was served from; it resolves relative
// links and feeds the page-type heuristic.
func (a *Analyzer) Analyze(pageURL, rawHTML string) (*schemas.PageAnalysis, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parsing document from %s: %w", pageURL, err)
	}
	doc := goquery.NewDocumentFromNode(root)

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	analysis := &schemas.PageAnalysis{
		URL:        pageURL,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Forms:      a.extractForms(doc),
		Links:      a.extractLinks(doc, base),
		Navigation: a.extractNavigation(doc),
	}

	for _, f := range analysis.Forms {
		if f.IsLogin {
			analysis.HasLogin = true
			break
		}
	}
	analysis.PageType = classifyPage(base, analysis, doc)

	a.logger.Debug("Page analyzed",
		zap.String("url", pageURL),
		zap.String("page_type", analysis.PageType),
		zap.Int("forms", len(analysis.Forms)),
		zap.Int("links", len(analysis.Links)),
		zap.Bool("has_login", analysis.HasLogin),
	)
	return analysis, nil
}

func (a *Analyzer) extractForms(doc *goquery.Document) []schemas.PageForm {
	var forms []schemas.PageForm
	doc.Find("form").Each(func(i int, sel *goquery.Selection) {
		form := schemas.PageForm{
			Action: sel.AttrOr("action", ""),
			Method: strings.ToLower(sel.AttrOr("method", "get")),
		}

		sel.Find("input, select, textarea").Each(func(_ int, field *goquery.Selection) {
			el := schemas.PageElement{
				Tag:      goquery.NodeName(field),
				Type:     field.AttrOr("type", "text"),
				Name:     field.AttrOr("name", ""),
				ID:       field.AttrOr("id", ""),
				Selector: fieldSelector(field),
			}
			if placeholder, ok := field.Attr("placeholder"); ok {
				el.Attrs = map[string]string{"placeholder": placeholder}
			}
			form.Inputs = append(form.Inputs, el)
		})

		form.IsLogin = isLoginForm(form)
		forms = append(forms, form)
	})
	return forms
}

func (a *Analyzer) extractLinks(doc *goquery.Document, base *url.URL) []schemas.PageElement {
	seen := make(map[string]bool)
	var links []schemas.PageElement
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		abs := resolved.String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, schemas.PageElement{
			Tag:      "a",
			Text:     strings.TrimSpace(sel.Text()),
			Selector: fmt.Sprintf(`a[href=%q]`, href),
			Attrs:    map[string]string{"href": abs},
		})
	})
	return links
}

func (a *Analyzer) extractNavigation(doc *goquery.Document) []schemas.PageElement {
	seen := make(map[string]bool)
	var nav []schemas.PageElement
	for _, selector := range navSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			href := strings.TrimSpace(sel.AttrOr("href", ""))
			text := strings.TrimSpace(sel.Text())
			if href == "" || seen[href] {
				return
			}
			seen[href] = true
			nav = append(nav, schemas.PageElement{
				Tag:      "a",
				Text:     text,
				Selector: fmt.Sprintf(`a[href=%q]`, href),
				Attrs:    map[string]string{"href": href},
			})
		})
	}
	return nav
}

// isLoginForm calls a form a login form when it carries exactly one password
// input next to something that looks like a username field, or a password
// input in a small form.
func isLoginForm(form schemas.PageForm) bool {
	passwords := 0
	hasUserField := false
	for _, in := range form.Inputs {
		switch {
		case in.Type == "password":
			passwords++
		case in.Type == "text" || in.Type == "email":
			lower := strings.ToLower(in.Name + " " + in.ID)
			for _, marker := range loginInputMarkers {
				if strings.Contains(lower, marker) {
					hasUserField = true
					break
				}
			}
		}
	}
	if passwords != 1 {
		// Two password fields is a registration or password-change form.
		return false
	}
	return hasUserField || len(form.Inputs) <= 4
}

// classifyPage mirrors a coarse URL-then-content heuristic: URL keywords win,
// otherwise the page's structure decides.
func classifyPage(base *url.URL, analysis *schemas.PageAnalysis, doc *goquery.Document) string {
	lowered := strings.ToLower(base.Path)
	switch {
	case containsAny(lowered, "login", "signin", "sign-in", "auth"):
		return "login"
	case containsAny(lowered, "dashboard", "home", "index"):
		return "dashboard"
	case containsAny(lowered, "form", "create", "new", "add"):
		return "form"
	case containsAny(lowered, "list", "table", "grid"):
		return "listing"
	case containsAny(lowered, "profile", "account", "settings"):
		return "profile"
	}

	switch {
	case analysis.HasLogin:
		return "login"
	case len(analysis.Forms) > 2:
		return "form"
	case doc.Find("table").Length() > 0:
		return "listing"
	}
	return "generic"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// fieldSelector builds the most precise CSS selector available for a form
// field: id, then name, then a bare tag.
func fieldSelector(field *goquery.Selection) string {
	tag := goquery.NodeName(field)
	if id, ok := field.Attr("id"); ok && id != "" {
		return "#" + id
	}
	if name, ok := field.Attr("name"); ok && name != "" {
		return fmt.Sprintf(`%s[name=%q]`, tag, name)
	}
	return tag
}
