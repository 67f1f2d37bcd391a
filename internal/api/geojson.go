package api

import (
	"github.com/mr1hm/go-disaster-response/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON maps emergencies with known coordinates to point features.
// Reports that only carry a place name are left out.
func toGeoJSON(emergencies []models.Emergency) FeatureCollection {
	features := make([]Feature, 0, len(emergencies))

	for _, e := range emergencies {
		if e.Coordinates == nil {
			continue
		}
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{e.Coordinates.Longitude, e.Coordinates.Latitude},
			},
			Properties: map[string]any{
				"id":        e.ID,
				"type":      e.Type,
				"severity":  e.Severity,
				"status":    e.Status,
				"location":  e.Location,
				"source":    e.SourceRef,
				"timestamp": e.Timestamp,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
