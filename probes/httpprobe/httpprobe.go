// Package httpprobe checks HTTP endpoints for readiness.
package httpprobe

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/veggerby/ignition/probes"
)

// New returns a check that GETs url and treats any 2xx answer as ready. A
// nil client gets a default one.
func New(client *resty.Client, url string) probes.Check {
	if client == nil {
		client = resty.New()
	}
	return func(ctx context.Context) error {
		resp, err := client.R().SetContext(ctx).Get(url)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("probe %s: unexpected status %s", url, resp.Status())
		}
		return nil
	}
}
