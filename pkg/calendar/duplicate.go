package calendar

import (
	"context"

	"github.com/familyhub/famcal/pkg/docstore"
	log "github.com/sirupsen/logrus"
)

// DuplicateDetector looks up stored events sharing a signature within one
// owner's calendar.
type DuplicateDetector struct {
	store      docstore.Store
	collection string
	normalizer *Normalizer
}

func NewDuplicateDetector(store docstore.Store, collection string, normalizer *Normalizer) *DuplicateDetector {
	return &DuplicateDetector{store: store, collection: collection, normalizer: normalizer}
}

// FindDuplicate returns the first stored event matching the candidate's
// signature and owner, or nil. A failed lookup is logged and treated as no
// duplicate so the write still goes ahead.
func (d *DuplicateDetector) FindDuplicate(ctx context.Context, candidate Event) *Event {
	if candidate.Signature == "" || candidate.OwnerId == "" {
		return nil
	}
	snapshots, err := d.store.Query(ctx, d.collection, []docstore.Filter{
		docstore.Where("signature", docstore.Eq, candidate.Signature),
		docstore.Where("ownerId", docstore.Eq, candidate.OwnerId),
	}, nil)
	if err != nil {
		log.WithError(err).Warnf("Duplicate check for %q failed, continuing without it", candidate.Title)
		return nil
	}
	if len(snapshots) == 0 {
		return nil
	}
	existing := fromSnapshot(d.normalizer, snapshots[0])
	return &existing
}

func fromSnapshot(n *Normalizer, s docstore.Snapshot) Event {
	raw := RawEvent(s.Data)
	if stringField(raw, "storageId", "firestoreId") == "" {
		raw["storageId"] = s.Id
	}
	return n.Normalize(raw)
}
