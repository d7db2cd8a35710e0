package rules

import "fmt"

// FetchPanicError records a fetcher that panicked instead of returning an error
type FetchPanicError struct {
	URL   string
	Value interface{}
}

func (e *FetchPanicError) Error() string {
	return fmt.Sprintf("fetch %s panicked: %v", e.URL, e.Value)
}
