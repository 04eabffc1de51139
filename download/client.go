package download

import (
	"net/http"
	"sync"
	"time"
)

var (
	clientOnce sync.Once
	client     *http.Client
)

// Shared returns the HTTP client used for cloud file downloads. Print files
// can be large, so only the connection phases are bounded; the body is
// bounded by the per-download context instead of a client timeout.
func Shared() *http.Client {
	clientOnce.Do(func() {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				MaxConnsPerHost:       2,
			},
		}
	})
	return client
}
