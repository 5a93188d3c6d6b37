package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cavaliercoder/grab"

	"github.com/airbusgeo/usgs-product-finder/service"
	"github.com/airbusgeo/usgs-product-finder/service/log"
)

// HTTPTransport implements Transport for http(s) urls
type HTTPTransport struct {
	// Timeout of the whole download (0: no timeout)
	Timeout time.Duration
	// Optional basic authentication
	User, Password string
	// Period of the progress log (in %)
	ProgressPeriod float64
}

// NewHTTPTransport creates a new http(s) transport
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{Timeout: timeout, ProgressPeriod: 5}
}

// Name implements Transport
func (t *HTTPTransport) Name() string {
	return "HTTP"
}

// Download implements Transport
func (t *HTTPTransport) Download(ctx context.Context, url, localFile string) error {
	req, err := grab.NewRequest(localFile, url)
	if err != nil {
		return fmt.Errorf("Download.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	req.NoResume = true
	if t.User != "" {
		req.HTTPRequest.SetBasicAuth(t.User, t.Password)
	}

	client := grab.NewClient()
	client.UserAgent = "usgs-product-finder"
	client.HTTPClient.Timeout = t.Timeout
	client.HTTPClient.CheckRedirect = checkRedirectAndCopyAuth
	resp := client.Do(req)

	period := t.ProgressPeriod
	if period <= 0 {
		period = 5
	}
	displayProgress(ctx, url, resp, period/100)

	if err := resp.Err(); err != nil {
		err = fmt.Errorf("Download[%s]: %w", url, err)
		if resp.HTTPResponse == nil || service.TemporaryStatus(resp.HTTPResponse.StatusCode) {
			return service.MakeTemporary(err)
		}
		return err
	}
	return nil
}

func checkRedirectAndCopyAuth(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if auth, ok := via[0].Header["Authorization"]; ok {
		req.Header.Add("Authorization", auth[0])
	}
	return nil
}

// displayProgress logs the progress of the download every progressPeriod, until the end of the download
func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress, lastBytes, seconds := progressPeriod, int64(0), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			if resp.Progress() >= progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size), fmtBytes((resp.BytesComplete()-lastBytes)/seconds))
				seconds = 0
				for progress <= resp.Progress() {
					progress += progressPeriod
				}
				lastBytes = resp.BytesComplete()
			}

		case <-resp.Done:
			return
		}
	}
}
