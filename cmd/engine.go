package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/viper"
	"github.com/sw33tLie/spacescope/internal/utils"
	"github.com/sw33tLie/spacescope/pkg/catalog"
	"github.com/sw33tLie/spacescope/pkg/history"
	"github.com/sw33tLie/spacescope/pkg/storage"
	"github.com/sw33tLie/spacescope/pkg/whttp"
)

// engine holds the collaborators built from configuration. close releases
// whatever the history backend and cache opened.
type engine struct {
	http    *retryablehttp.Client
	catalog *catalog.Client
	ledger  *history.Ledger
	closers []io.Closer
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			utils.Log.Warnf("close: %v", err)
		}
	}
}

func newHTTPClient() (*retryablehttp.Client, error) {
	return whttp.NewClient(whttp.ClientOptions{
		RetryMax: viper.GetInt("api.retries"),
		Timeout:  viper.GetDuration("api.timeout"),
		Proxy:    viper.GetString("api.proxy"),
	})
}

func newCatalogClient(client *retryablehttp.Client) (*catalog.Client, error) {
	return catalog.NewClient(viper.GetString("api.url"),
		catalog.WithHTTPClient(client),
		catalog.WithRateLimit(viper.GetFloat64("api.rps")),
	)
}

func newHistoryBackend(e *engine, backend string) (history.Backend, error) {
	switch strings.ToLower(backend) {
	case "remote", "":
		return history.NewRemoteBackend(viper.GetString("api.url"), e.http), nil
	case "sqlite":
		db, err := storage.Open(viper.GetString("history.dbpath"))
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, db)
		return db, nil
	case "local":
		// Entries live only in the cache; an explicit cache is required.
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q (use remote, sqlite or local)", backend)
	}
}

func newHistoryCache(e *engine, kind string) (history.Cache, error) {
	key := viper.GetString("history.key")
	switch strings.ToLower(kind) {
	case "file", "":
		return history.NewFileCache(viper.GetString("history.cachedir"), key)
	case "redis":
		c, err := history.NewRedisCache(viper.GetString("redis.url"), key)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, c)
		return c, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown history cache %q (use file, redis or none)", kind)
	}
}

// newEngine wires the catalog client and the history ledger from viper.
func newEngine() (*engine, error) {
	e := &engine{}

	client, err := newHTTPClient()
	if err != nil {
		return nil, err
	}
	e.http = client

	e.catalog, err = newCatalogClient(client)
	if err != nil {
		return nil, err
	}

	backend, err := newHistoryBackend(e, viper.GetString("history.backend"))
	if err != nil {
		e.close()
		return nil, err
	}
	cache, err := newHistoryCache(e, viper.GetString("history.cache"))
	if err != nil {
		e.close()
		return nil, err
	}

	if backend == nil {
		if cache == nil {
			e.close()
			return nil, fmt.Errorf("history backend \"local\" needs a cache (history.cache is \"none\")")
		}
		backend = history.CacheBackend{Cache: cache}
		cache = nil
	}

	e.ledger = history.NewLedger(backend, cache, utils.Log)
	utils.Log.Debugf("Engine ready: api=%s history=%s cache=%s",
		e.catalog.BaseURL(), viper.GetString("history.backend"), viper.GetString("history.cache"))
	return e, nil
}
