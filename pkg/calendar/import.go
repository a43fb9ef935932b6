package calendar

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Adder is the part of the repository the sync adapters need.
type Adder interface {
	Add(ctx context.Context, raw RawEvent, ownerId, familyId string) (AddResult, error)
}

type ImportResult struct {
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	Queued     int `json:"queued"`
}

// AddAll adds raws one by one. A failed add is counted and logged; the rest of
// the batch is still attempted unless ctx is done.
func AddAll(ctx context.Context, adder Adder, raws []RawEvent, ownerId, familyId string) ImportResult {
	var result ImportResult
	for _, raw := range raws {
		if ctx.Err() != nil {
			result.Failed += len(raws) - (result.Added + result.Duplicates + result.Failed)
			break
		}
		added, err := adder.Add(ctx, raw, ownerId, familyId)
		switch {
		case err != nil:
			result.Failed++
			if added.Queued {
				result.Queued++
			}
			log.WithError(err).Warnf("Failed to import %v for %s", raw["title"], ownerId)
		case added.IsDuplicate:
			result.Duplicates++
		default:
			result.Added++
		}
	}
	return result
}
