package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

// Estimator supplies the distance-in-miles collaborator. The engine does not
// validate geocoding correctness, only that the value is finite and positive.
type Estimator interface {
	Miles(ctx context.Context, from, to models.Coord) (float64, error)
}

const metersPerMile = 1609.344

// HaversineEstimator is the no-dependency fallback: straight-line distance.
type HaversineEstimator struct{}

func (HaversineEstimator) Miles(ctx context.Context, from, to models.Coord) (float64, error) {
	return haversineMeters(from.Lat, from.Lon, to.Lat, to.Lon) / metersPerMile, nil
}

// RouteClient queries an OSRM-compatible routing server for road distance.
type RouteClient struct {
	Endpoint string
	Client   *http.Client
}

func NewRouteClient(endpoint string) *RouteClient {
	return &RouteClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (c *RouteClient) Miles(ctx context.Context, from, to models.Coord) (float64, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		c.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, faults.Wrap(faults.Transient, "distance lookup failed", err)
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"` // meters
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return 0, fmt.Errorf("no route: %v", out.Code)
	}
	return out.Routes[0].Distance / metersPerMile, nil
}

// Validate rejects values the fare engine cannot price.
func Validate(miles float64) error {
	if miles <= 0 || math.IsNaN(miles) || math.IsInf(miles, 0) {
		return faults.New(faults.Validation, "distance must be a finite positive number of miles")
	}
	return nil
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
