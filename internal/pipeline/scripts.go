package pipeline

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ScriptTags holds the script sources found in a document
type ScriptTags struct {
	Srcs []string // raw src attributes, as written
	URLs []string // srcs resolved against the page URL, http(s) only, deduplicated
}

// ExtractScripts walks the document and collects every <script src>
func ExtractScripts(htmlContent string, pageURL string) (ScriptTags, error) {
	var tags ScriptTags

	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return tags, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return tags, err
	}

	seen := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			for _, attr := range n.Attr {
				if attr.Key != "src" {
					continue
				}
				src := strings.TrimSpace(attr.Val)
				if src == "" {
					continue
				}
				tags.Srcs = append(tags.Srcs, src)
				if resolved := resolveScriptURL(base, src); resolved != "" && !seen[resolved] {
					seen[resolved] = true
					tags.URLs = append(tags.URLs, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return tags, nil
}

// AnySrcContains reports whether any raw src contains needle
func (t ScriptTags) AnySrcContains(needle string) bool {
	for _, src := range t.Srcs {
		if strings.Contains(src, needle) {
			return true
		}
	}
	return false
}

// resolveScriptURL resolves src against base and keeps only http(s) URLs
func resolveScriptURL(base *url.URL, src string) string {
	parsed, err := url.Parse(src)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
