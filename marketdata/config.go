package marketdata

import (
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Config is the client configuration. TTL variables accept extended
// duration syntax ("30s", "1d", "1w2d") in addition to the standard Go
// forms.
type Config struct {
	// BaseURL is the API origin. It is also the base identity for cache
	// keys, so two clients pointed at different origins never share entries.
	BaseURL string `env:"MARKETGLASS_API_URL" envDefault:"https://api.marketglass.io"`

	// Token is the bearer token; empty means unauthenticated requests.
	Token string `env:"MARKETGLASS_API_TOKEN"`

	// CacheDB is the path of the SQLite cache file. Empty disables the
	// persistent tier.
	CacheDB string `env:"MARKETGLASS_CACHE_DB"`

	// QuoteTTL is how long watchlist quotes are served without revalidation.
	QuoteTTL time.Duration `env:"MARKETGLASS_QUOTE_TTL" envDefault:"30s"`

	// DetailTTL covers fund details, rankings and news.
	DetailTTL time.Duration `env:"MARKETGLASS_DETAIL_TTL" envDefault:"5m"`

	// PersistTTL is how long results are kept in the persistent tier for
	// instant display on a cold revisit.
	PersistTTL time.Duration `env:"MARKETGLASS_PERSIST_TTL" envDefault:"1d"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	err := env.ParseWithOptions(&cfg, env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): func(v string) (any, error) {
				return str2duration.ParseDuration(v)
			},
		},
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	return cfg, nil
}
