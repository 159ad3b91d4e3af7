package edge

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// SyncResult reports what a sync pass did to the zone.
type SyncResult struct {
	Created   []Record
	Updated   []Record
	Unchanged []Record
}

// Changed returns the number of records the pass wrote.
func (r *SyncResult) Changed() int {
	return len(r.Created) + len(r.Updated)
}

// Sync ensures every desired record exists in the zone with the
// desired value, creating or rewriting records as needed. Records the
// desired set does not name are left alone. Two desired records with
// the same name and type must agree on their value.
func (c *Client) Sync(ctx context.Context, zone string, desired []Record) (*SyncResult, error) {
	deduped, err := dedupe(desired)
	if err != nil {
		return nil, err
	}

	existing, err := c.ListRecords(ctx, zone)
	if err != nil {
		return nil, err
	}

	byKey := make(map[recordKey]Record, len(existing))
	for _, record := range existing {
		byKey[keyOf(record)] = record
	}

	result := &SyncResult{}
	for _, want := range deduped {
		current, ok := byKey[keyOf(want)]
		if !ok {
			created, err := c.CreateRecord(ctx, zone, want)
			if err != nil {
				return nil, err
			}
			log.Info().
				Str("record", want.Name).
				Str("type", want.Type).
				Str("value", want.Value).
				Msg("record created")
			result.Created = append(result.Created, created)
			continue
		}

		if !needsUpdate(current, want) {
			result.Unchanged = append(result.Unchanged, current)
			continue
		}

		next := want
		next.ID = current.ID
		if next.TTL == 0 {
			next.TTL = current.TTL
		}
		updated, err := c.UpdateRecord(ctx, zone, next)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("record", want.Name).
			Str("type", want.Type).
			Str("value", want.Value).
			Msg("record updated")
		result.Updated = append(result.Updated, updated)
	}

	return result, nil
}

type recordKey struct {
	name  string
	rtype string
}

func keyOf(r Record) recordKey {
	return recordKey{name: r.Name, rtype: r.Type}
}

// needsUpdate compares the fields the manifest controls. A zero
// desired TTL defers to whatever the provider has.
func needsUpdate(current, want Record) bool {
	if current.Value != want.Value {
		return true
	}
	if current.Proxied != want.Proxied {
		return true
	}
	if want.TTL != 0 && current.TTL != want.TTL {
		return true
	}
	return false
}

// dedupe collapses identical desired records and rejects conflicting
// ones, keeping first-seen order.
func dedupe(desired []Record) ([]Record, error) {
	seen := make(map[recordKey]Record, len(desired))
	var out []Record
	for _, record := range desired {
		key := keyOf(record)
		prev, ok := seen[key]
		if !ok {
			seen[key] = record
			out = append(out, record)
			continue
		}
		if prev.Value != record.Value || prev.Proxied != record.Proxied {
			return nil, fmt.Errorf("conflicting records for %s %s: %q vs %q", record.Type, record.Name, prev.Value, record.Value)
		}
	}
	return out, nil
}
