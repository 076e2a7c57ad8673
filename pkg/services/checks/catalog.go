package checks

import (
	"errors"
	"fmt"
	"sort"
)

// Kind tags a catalog entry with the check family it belongs to. Dispatch
// is over these tagged entries, not ad hoc string switches; KindUnknown is
// the explicit "no such check" variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindStorage
	KindNetwork
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindNetwork:
		return "network"
	case KindDatabase:
		return "database"
	default:
		return "unknown"
	}
}

// ErrUnknownCheck classifies a check id with no catalog entry. It is a
// configuration error and fails a run immediately, without retry.
var ErrUnknownCheck = errors.New("unknown check id")

type Entry struct {
	Kind  Kind
	Check Check
}

type Catalog struct {
	entries map[string]Entry
	retry   RetrySettings
}

// NewCatalog returns a catalog pre-populated with the builtin checks.
func NewCatalog() *Catalog {
	c := &Catalog{
		entries: make(map[string]Entry),
		retry:   DefaultRetrySettings(),
	}
	c.Register(KindStorage, NewPublicAccessCheck(c.retry))
	c.Register(KindNetwork, NewOpenPortsCheck(c.retry))
	c.Register(KindDatabase, NewRDSPublicCheck(c.retry))
	return c
}

func (c *Catalog) Register(kind Kind, chk Check) {
	c.entries[chk.ID()] = Entry{Kind: kind, Check: chk}
}

// Resolve maps a check id to its entry. Unknown ids return the KindUnknown
// variant alongside ErrUnknownCheck.
func (c *Catalog) Resolve(id string) (Entry, error) {
	entry, ok := c.entries[id]
	if !ok {
		return Entry{Kind: KindUnknown}, fmt.Errorf("%w: %q", ErrUnknownCheck, id)
	}
	return entry, nil
}

// IDs lists registered check ids in stable order; a full sweep executes
// them sequentially in this order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
