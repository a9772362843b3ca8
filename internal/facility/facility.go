// Package facility looks up hospitals and clinics near a shared location.
package facility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"googlemaps.github.io/maps"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// MaxResults bounds the number of facilities returned by FindNearby.
const MaxResults = 5

// DefaultRadiusMeters is the search radius used when none is configured.
const DefaultRadiusMeters = 5000

// ErrMissingAPIKey is returned when the Places API key is not configured.
var ErrMissingAPIKey = errors.New("google places API key not set")

// Finder returns up to MaxResults care facilities near a coordinate.
type Finder interface {
	FindNearby(ctx context.Context, lat, lng float64) ([]models.Facility, error)
}

// placesAPI is the subset of *maps.Client used by PlacesFinder.
type placesAPI interface {
	NearbySearch(ctx context.Context, r *maps.NearbySearchRequest) (maps.PlacesSearchResponse, error)
	PlaceDetails(ctx context.Context, r *maps.PlaceDetailsRequest) (maps.PlaceDetailsResult, error)
}

// PlacesFinder finds hospitals with the Google Places API.
type PlacesFinder struct {
	api    placesAPI
	radius uint
}

// Option configures a PlacesFinder.
type Option func(*PlacesFinder)

// WithRadius sets the search radius in metres.
func WithRadius(meters uint) Option {
	return func(f *PlacesFinder) {
		if meters > 0 {
			f.radius = meters
		}
	}
}

// NewPlacesFinder creates a finder backed by the Places API.
func NewPlacesFinder(apiKey string, opts ...Option) (*PlacesFinder, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return newPlacesFinder(client, opts...), nil
}

func newPlacesFinder(api placesAPI, opts ...Option) *PlacesFinder {
	f := &PlacesFinder{api: api, radius: DefaultRadiusMeters}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FindNearby implements Finder. Phone numbers are fetched concurrently and a
// failed detail lookup only leaves that entry without a phone.
func (f *PlacesFinder) FindNearby(ctx context.Context, lat, lng float64) ([]models.Facility, error) {
	slog.Debug("PlacesFinder FindNearby", "lat", lat, "lng", lng, "radius", f.radius)
	resp, err := f.api.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: lat, Lng: lng},
		Radius:   f.radius,
		Type:     maps.PlaceTypeHospital,
	})
	if err != nil {
		slog.Error("PlacesFinder nearby search failed", "error", err)
		return nil, fmt.Errorf("nearby search: %w", err)
	}

	results := resp.Results
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}

	facilities := make([]models.Facility, len(results))
	var wg sync.WaitGroup
	for i, place := range results {
		facilities[i] = models.Facility{Name: place.Name, Address: place.Vicinity}
		wg.Add(1)
		go func(i int, placeID string) {
			defer wg.Done()
			facilities[i].Phone = f.phone(ctx, placeID)
		}(i, place.PlaceID)
	}
	wg.Wait()

	slog.Info("PlacesFinder found facilities", "count", len(facilities))
	return facilities, nil
}

func (f *PlacesFinder) phone(ctx context.Context, placeID string) string {
	if placeID == "" {
		return ""
	}
	details, err := f.api.PlaceDetails(ctx, &maps.PlaceDetailsRequest{
		PlaceID: placeID,
		Fields:  []maps.PlaceDetailsFieldMask{maps.PlaceDetailsFieldMaskFormattedPhoneNumber},
	})
	if err != nil {
		slog.Warn("PlacesFinder place details failed", "error", err, "placeID", placeID)
		return ""
	}
	return details.FormattedPhoneNumber
}
