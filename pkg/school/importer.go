package school

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/familyhub/famcal/internal/utils"
	"github.com/familyhub/famcal/pkg/calendar"
	log "github.com/sirupsen/logrus"
)

// Feed is a school iCal subscription and the calendar it lands in.
type Feed struct {
	Id        string
	Url       string
	OwnerId   string
	FamilyId  string
	ChildName string
}

// DefaultMaxFeedBytes bounds how much of a feed response is read.
const DefaultMaxFeedBytes = 10 << 20

type Importer struct {
	client   *http.Client
	maxBytes int64
	events   calendar.Adder
	clock    utils.Clock
	location *time.Location
	horizon  int
}

func NewImporter(client *http.Client, events calendar.Adder, clock utils.Clock, location *time.Location, horizonDays int) *Importer {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if location == nil {
		location = time.Local
	}
	return &Importer{
		client:   client,
		maxBytes: DefaultMaxFeedBytes,
		events:   events,
		clock:    clock,
		location: location,
		horizon:  horizonDays,
	}
}

// Import fetches the feed and adds every occurrence from yesterday up to the
// configured horizon. Occurrences already in the calendar are skipped by the
// repository's duplicate detection.
func (i *Importer) Import(ctx context.Context, feed Feed) (calendar.ImportResult, error) {
	body, err := i.fetch(ctx, feed.Url)
	if err != nil {
		err := fmt.Errorf("failed to fetch school feed %s: %w", feed.Id, err)
		log.Error(err)
		return calendar.ImportResult{}, err
	}

	entries, err := ParseFeed(body, i.location)
	if err != nil {
		err := fmt.Errorf("failed to parse school feed %s: %w", feed.Id, err)
		log.Error(err)
		return calendar.ImportResult{}, err
	}

	now := i.clock.Now()
	occurrences := Expand(entries, now.AddDate(0, 0, -1), now.AddDate(0, 0, i.horizon))

	raws := make([]calendar.RawEvent, 0, len(occurrences))
	for _, o := range occurrences {
		raws = append(raws, rawFromOccurrence(o, feed))
	}

	result := calendar.AddAll(ctx, i.events, raws, feed.OwnerId, feed.FamilyId)
	log.Infof("School feed %s imported: %d added, %d duplicates, %d failed",
		feed.Id, result.Added, result.Duplicates, result.Failed)
	return result, nil
}

func (i *Importer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > i.maxBytes {
		return nil, fmt.Errorf("feed is larger than %d bytes", i.maxBytes)
	}
	return body, nil
}

func rawFromOccurrence(o Occurrence, feed Feed) calendar.RawEvent {
	raw := calendar.RawEvent{
		"title":       o.Entry.Summary,
		"description": o.Entry.Description,
		"location":    o.Entry.Location,
		"source":      calendar.SourceSchoolImport,
		"providers": []any{map[string]any{
			"type":   "school-ical",
			"feedId": feed.Id,
			"uid":    o.Entry.UID,
		}},
	}
	if feed.ChildName != "" {
		raw["childName"] = feed.ChildName
	}
	if o.Entry.AllDay {
		raw["start"] = map[string]any{"date": o.Start.Format(time.DateOnly)}
		raw["end"] = map[string]any{"date": o.End.Format(time.DateOnly)}
	} else {
		raw["start"] = map[string]any{"dateTime": o.Start.Format(time.RFC3339)}
		raw["end"] = map[string]any{"dateTime": o.End.Format(time.RFC3339)}
	}
	return raw
}
