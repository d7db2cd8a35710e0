package model

import "context"

// ContentFunc lazily loads a response body. It may fail.
type ContentFunc func() (string, error)

// Response is one observed network exchange
type Response struct {
	URL     string
	Content ContentFunc
}

// StaticResponse returns a Response whose body is already known
func StaticResponse(url, body string) Response {
	return Response{
		URL:     url,
		Content: func() (string, error) { return body, nil },
	}
}

// FailedResponse returns a Response whose body can never be loaded
func FailedResponse(url string, err error) Response {
	return Response{
		URL:     url,
		Content: func() (string, error) { return "", err },
	}
}

// FetchFunc retrieves the text of a script URL
type FetchFunc func(ctx context.Context, url string) (string, error)

// PageState holds the page-level development indicators evaluated
// against the live document.
type PageState struct {
	DevToolsHook      bool `json:"devtools_hook"`        // __REACT_DEVTOOLS_GLOBAL_HOOK__ defined
	WebpackScriptTag  bool `json:"webpack_script_tag"`   // script[src*="webpack://"]
	ReactDevScriptTag bool `json:"react_dev_script_tag"` // script[src*="react.development.js"]
}

// Observation is everything one collection pass produced for a page.
// It is built once and never mutated.
type Observation struct {
	URL         string
	ConsoleLogs []string
	Responses   []Response
	ScriptURLs  []string
	Fetch       FetchFunc
	Page        PageState
}
