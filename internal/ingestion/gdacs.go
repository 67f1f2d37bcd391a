package ingestion

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

type gdacsRSS struct {
	Channel gdacsChannel `xml:"channel"`
}
type gdacsChannel struct {
	Items []gdacsItem `xml:"item"`
}
type gdacsItem struct {
	Title       string  `xml:"title"`
	Description string  `xml:"description"`
	Link        string  `xml:"link"`
	PubDate     string  `xml:"pubDate"`
	Lat         float64 `xml:"http://www.georss.org/georss point>lat"`
	Lon         float64 `xml:"http://www.georss.org/georss point>lon"`
	EventType   string  `xml:"http://www.gdacs.org gdacs>eventtype"`
	AlertLevel  string  `xml:"http://www.gdacs.org gdacs>alertlevel"`
	EventID     string  `xml:"http://www.gdacs.org gdacs>eventid"`
	Severity    float64 `xml:"http://www.gdacs.org gdacs>severity"`
}

func fetchGDACS(ctx context.Context, client *http.Client, url string) ([]models.Intake, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data gdacsRSS
	if err := xml.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	intakes := make([]models.Intake, 0, len(data.Channel.Items))
	for _, item := range data.Channel.Items {
		impact := alertImpact(item.AlertLevel)
		// Green alerts are informational.
		if impact < 3 {
			continue
		}

		in := models.Intake{
			"source":         "gdacs",
			"source_ref":     "gdacs_" + item.EventID,
			"emergency_type": string(models.EmergencyTypeNaturalDisaster),
			"description":    gdacsEventName(item.EventType) + ": " + item.Title,
			"location":       item.Title,
			"alert_level":    strings.ToLower(item.AlertLevel),
			"report_url":     item.Link,
			"impact_score":   impact,
			"urgency_score":  3,
			"coordinates": map[string]any{
				"latitude":  item.Lat,
				"longitude": item.Lon,
			},
		}
		if ts, err := time.Parse(time.RFC1123, item.PubDate); err == nil {
			in["occurred_at"] = ts.UTC().Format(time.RFC3339)
		} else {
			slog.Warn("GDACS timestamp parsing failed", "id", item.EventID, "error", err.Error())
		}
		intakes = append(intakes, in)
	}

	return intakes, nil
}

func alertImpact(level string) int {
	switch strings.ToLower(level) {
	case "red":
		return 4
	case "orange":
		return 3
	case "green":
		return 1
	}
	return 1
}

func gdacsEventName(eventType string) string {
	switch strings.ToUpper(eventType) {
	case "EQ":
		return "earthquake"
	case "TC":
		return "hurricane"
	case "FL":
		return "flood"
	case "VO":
		return "volcano"
	case "TS":
		return "tsunami"
	case "WF":
		return "wildfire"
	case "DR":
		return "drought"
	default:
		return "natural hazard"
	}
}
