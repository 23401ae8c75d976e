package browser

import (
	"context"
	"fmt"
)

// Unconfigured is a HeadlessBrowser that fails every call. The actual ad
// library scraper is an external collaborator: operators plug in their
// own implementation of this package's interface. This stub lets the
// rest of the system (Store, API, PushDispatcher) run and be exercised
// without one, with the crawl scheduler simply recording a
// browser_error on every pass instead of panicking at startup.
type Unconfigured struct{}

func (Unconfigured) Query(ctx context.Context, keyword string) ([]SearchResult, error) {
	return nil, fmt.Errorf("no HeadlessBrowser configured")
}

func (Unconfigured) Screenshot(ctx context.Context, ids []string) (map[string][]byte, error) {
	return nil, fmt.Errorf("no HeadlessBrowser configured")
}

func (Unconfigured) Close() error { return nil }
