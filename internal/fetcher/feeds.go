package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cityflow/internal/config"
)

// Known feed names.
const (
	FeedWeather = "weather"
	FeedTraffic = "traffic"
	FeedBikes   = "bikes"
)

// Feed is one resolved HTTP source.
type Feed struct {
	Name   string
	URL    string
	Header http.Header
}

var errUnknownSource = errors.New("unknown source")

// Resolve builds the request description for a named feed from the
// configuration. It fails when the feed is unknown or its settings are
// incomplete.
func Resolve(name string, cfg config.FetcherConfig) (Feed, error) {
	switch name {
	case FeedWeather:
		if cfg.WeatherBaseURL == "" || !cfg.WeatherAPIKey.IsSet() {
			return Feed{}, errors.New("WEATHER_BASE_URL or WEATHER_API_KEY missing")
		}
		sep := "?"
		if strings.Contains(cfg.WeatherBaseURL, "?") {
			sep = "&"
		}
		return Feed{
			Name:   name,
			URL:    cfg.WeatherBaseURL + sep + "key=" + url.QueryEscape(cfg.WeatherAPIKey.Unmask()),
			Header: http.Header{},
		}, nil

	case FeedTraffic:
		if cfg.TrafficURL == "" || !cfg.TrafficAPIKey.IsSet() {
			return Feed{}, errors.New("TRAFFIC_URL or TRAFFIC_API_KEY missing")
		}
		h := http.Header{}
		switch strings.ToLower(cfg.TrafficMode) {
		case "idfm":
			h.Set("apikey", cfg.TrafficAPIKey.Unmask())
		case "navitia":
			// token as user, empty password
			req := http.Request{Header: h}
			req.SetBasicAuth(cfg.TrafficAPIKey.Unmask(), "")
		default:
			return Feed{}, fmt.Errorf("unknown TRAFFIC_MODE=%s", cfg.TrafficMode)
		}
		return Feed{Name: name, URL: cfg.TrafficURL, Header: h}, nil

	case FeedBikes:
		if cfg.BikesURL == "" {
			return Feed{}, errors.New("BIKES_URL missing")
		}
		return Feed{Name: name, URL: cfg.BikesURL, Header: http.Header{}}, nil
	}
	return Feed{}, errUnknownSource
}
