package query

import (
	"context"

	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
)

// Keyed is an entity that knows its own key.
type Keyed interface {
	Key() *datastore.Key
}

// ParentKeys returns the distinct parent keys of entities, in first-seen order.
func ParentKeys[E Keyed](entities []E) []*datastore.Key {
	seen := make(map[string]struct{}, len(entities))
	var keys []*datastore.Key
	for _, e := range entities {
		p := e.Key().Parent()
		if p == nil {
			continue
		}
		path := p.Path()
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		keys = append(keys, p)
	}
	return keys
}

// PrefetchParents loads the parents of entities in one batched read. The records
// are returned as-is; joining them to the entities is the caller's business.
func PrefetchParents[E Keyed](ctx context.Context, c *datastore.Client, entities []E) ([]datastore.Record, error) {
	keys := ParentKeys(entities)
	if len(keys) == 0 {
		return nil, nil
	}
	return c.GetMulti(ctx, keys)
}
