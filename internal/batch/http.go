package batch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"pacer/internal/config"
	"pacer/pkg/pacer"
)

// NewHTTPClient builds the shared client for http tasks. maxConns sizes the
// per-host idle pool and should match the engine's concurrency.
func NewHTTPClient(maxConns int) *http.Client {
	perHost := max(maxConns, 2)
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr}
}

func httpTask(ctx context.Context, client *http.Client, name string, d config.TaskConfig, timeout time.Duration) pacer.Task[Result] {
	method := strings.ToUpper(strings.TrimSpace(d.Method))
	if method == "" {
		method = http.MethodGet
	}
	url := strings.TrimSpace(d.URL)

	return func() (Result, error) {
		res := Result{Name: name, Kind: config.KindHTTP}

		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var body io.Reader
		if d.Body != "" {
			body = strings.NewReader(d.Body)
		}
		req, err := http.NewRequestWithContext(rctx, method, url, body)
		if err != nil {
			return res, err
		}
		for k, v := range d.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return res, err
		}
		defer resp.Body.Close()

		n, err := io.Copy(io.Discard, resp.Body)
		res.Status = resp.StatusCode
		res.Bytes = n
		res.Detail = fmt.Sprintf("%s %s -> %d (%d bytes)", method, url, resp.StatusCode, n)
		if err != nil {
			return res, fmt.Errorf("read body: %w", err)
		}
		if !statusOK(resp.StatusCode, d.ExpectStatus) {
			want := "2xx"
			if d.ExpectStatus > 0 {
				want = fmt.Sprint(d.ExpectStatus)
			}
			return res, fmt.Errorf("%w: got %d, want %s", ErrUnexpectedStatus, resp.StatusCode, want)
		}
		return res, nil
	}
}

// statusOK accepts exactly expect when set, otherwise any 2xx.
func statusOK(got, expect int) bool {
	if expect > 0 {
		return got == expect
	}
	return got >= 200 && got < 300
}
