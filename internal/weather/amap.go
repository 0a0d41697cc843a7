// Package weather provides forecast content from the Amap open platform.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"weatherbot/pkg/logx"
)

// Day is one forecast record in the provider's fixed schema.
type Day struct {
	Date         string `json:"date"`
	Week         string `json:"week"`
	DayWeather   string `json:"dayweather"`
	NightWeather string `json:"nightweather"`
	DayTemp      string `json:"daytemp"`
	NightTemp    string `json:"nighttemp"`
	DayWind      string `json:"daywind"`
	NightWind    string `json:"nightwind"`
	DayPower     string `json:"daypower"`
	NightPower   string `json:"nightpower"`
}

// Provider is the external content provider boundary.
type Provider interface {
	Forecast(ctx context.Context, city string) ([]Day, error)
	// StaticMapURL returns an image URL for the city, for image-mode sends.
	StaticMapURL(ctx context.Context, city string) (string, error)
}

const (
	forecastURL  = "https://restapi.amap.com/v3/weather/weatherInfo"
	geocodeURL   = "https://restapi.amap.com/v3/geocode/geo"
	staticMapURL = "https://restapi.amap.com/v3/staticmap"
)

type Amap struct {
	key  string
	http *http.Client
	log  logx.Logger
}

func NewAmap(key string, timeout time.Duration, log logx.Logger) *Amap {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Amap{
		key:  key,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type forecastResponse struct {
	Status    string `json:"status"`
	Info      string `json:"info"`
	Forecasts []struct {
		City  string `json:"city"`
		Casts []Day  `json:"casts"`
	} `json:"forecasts"`
}

// Forecast fetches the multi-day forecast for city.
func (a *Amap) Forecast(ctx context.Context, city string) ([]Day, error) {
	if strings.TrimSpace(a.key) == "" {
		return nil, fmt.Errorf("amap api key not configured")
	}
	a.log.Debug("forecast request", logx.String("city", city))
	q := url.Values{}
	q.Set("key", a.key)
	q.Set("city", city)
	q.Set("extensions", "all")

	var resp forecastResponse
	if err := a.getJSON(ctx, forecastURL, q, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "1" || len(resp.Forecasts) == 0 {
		return nil, fmt.Errorf("amap forecast for %q: %s", city, orUnknown(resp.Info))
	}
	casts := resp.Forecasts[0].Casts
	if len(casts) == 0 {
		return nil, fmt.Errorf("amap forecast for %q: empty casts", city)
	}
	return casts, nil
}

type geocodeResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Geocodes []struct {
		Location string `json:"location"` // "lon,lat"
	} `json:"geocodes"`
}

// StaticMapURL geocodes the city and returns a static map image URL.
func (a *Amap) StaticMapURL(ctx context.Context, city string) (string, error) {
	q := url.Values{}
	q.Set("key", a.key)
	q.Set("address", city)

	var resp geocodeResponse
	if err := a.getJSON(ctx, geocodeURL, q, &resp); err != nil {
		return "", err
	}
	if resp.Status != "1" || len(resp.Geocodes) == 0 || resp.Geocodes[0].Location == "" {
		return "", fmt.Errorf("amap geocode for %q: %s", city, orUnknown(resp.Info))
	}

	mq := url.Values{}
	mq.Set("key", a.key)
	mq.Set("location", resp.Geocodes[0].Location)
	mq.Set("zoom", "10")
	mq.Set("size", "750*500")
	return staticMapURL + "?" + mq.Encode(), nil
}

func (a *Amap) getJSON(ctx context.Context, base string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	res, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("amap: unexpected status %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown error"
	}
	return s
}
