package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

// minQuakeMagnitude is the smallest earthquake that opens an emergency.
const minQuakeMagnitude = 5.0

type usgsResponse struct {
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string         `json:"id"`
	Properties usgsProperties `json:"properties"`
	Geometry   usgsGeometry   `json:"geometry"`
}
type usgsProperties struct {
	Mag     float64 `json:"mag"`
	Place   string  `json:"place"`
	Time    int64   `json:"time"` // unix millis
	Title   string  `json:"title"`
	Tsunami int     `json:"tsunami"` // 0 or 1
}
type usgsGeometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
}

func fetchUSGS(ctx context.Context, client *http.Client, url string) ([]models.Intake, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data usgsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	intakes := make([]models.Intake, 0, len(data.Features))
	for _, f := range data.Features {
		if f.Properties.Mag < minQuakeMagnitude {
			continue
		}
		intakes = append(intakes, usgsIntake(f))
	}

	return intakes, nil
}

func usgsIntake(f usgsFeature) models.Intake {
	urgency := 3
	if f.Properties.Tsunami == 1 {
		urgency = 4
	}

	in := models.Intake{
		"source":         "usgs",
		"source_ref":     "usgs_" + f.ID,
		"emergency_type": string(models.EmergencyTypeNaturalDisaster),
		"description":    "earthquake: " + f.Properties.Title,
		"location":       f.Properties.Place,
		"magnitude":      f.Properties.Mag,
		"tsunami":        f.Properties.Tsunami == 1,
		"impact_score":   magnitudeImpact(f.Properties.Mag),
		"urgency_score":  urgency,
		"occurred_at":    time.UnixMilli(f.Properties.Time).UTC().Format(time.RFC3339),
	}
	if len(f.Geometry.Coordinates) >= 2 {
		in["coordinates"] = map[string]any{
			"longitude": f.Geometry.Coordinates[0],
			"latitude":  f.Geometry.Coordinates[1],
		}
	}
	return in
}

// magnitudeImpact scores a quake on the 1-4 impact scale.
func magnitudeImpact(mag float64) int {
	switch {
	case mag >= 7.0:
		return 4
	case mag >= 6.0:
		return 3
	case mag >= 5.0:
		return 2
	}
	return 1
}
