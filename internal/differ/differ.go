package differ

import (
	"sort"
	"time"

	"stockwatch/internal/catalog"
)

// Result is the outcome of comparing one observation with stored state.
type Result struct {
	// Changes are ordered NEW, stock transitions, TITLE_UPDATE, PRICE_UPDATE,
	// then by code.
	Changes []catalog.Change
	// Upserts holds one row per observed code.
	Upserts []catalog.Item
	// Unchanged counts known codes with no classified difference.
	Unchanged int
	// Missing lists known codes absent from the observation. They are left
	// untouched.
	Missing []string
	// Duplicates lists codes that appeared more than once; the first
	// occurrence wins.
	Duplicates []string
	// SuppressedSoldOut lists codes whose SOLDOUT was withheld because the
	// observation was incomplete.
	SuppressedSoldOut []string
}

// Counts returns the number of changes per type.
func (r Result) Counts() map[catalog.ChangeType]int {
	counts := make(map[catalog.ChangeType]int, len(r.Changes))
	for _, change := range r.Changes {
		counts[change.Type]++
	}
	return counts
}

// Diff classifies the observation against previous. previous is not
// modified.
func Diff(previous map[string]catalog.Item, obs catalog.Observation) Result {
	at := obs.FetchedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var result Result
	seen := make(map[string]struct{}, len(obs.Items))
	for _, item := range obs.Items {
		if item.Code == "" {
			continue
		}
		if _, dup := seen[item.Code]; dup {
			result.Duplicates = append(result.Duplicates, item.Code)
			continue
		}
		seen[item.Code] = struct{}{}

		prev, known := previous[item.Code]
		if !known {
			result.Changes = append(result.Changes, catalog.Change{
				Code:       item.Code,
				Type:       catalog.ChangeNew,
				Payload:    payloadOf(item, item.InStock),
				OccurredAt: at,
			})
			result.Upserts = append(result.Upserts, catalog.Item{
				Code:      item.Code,
				Title:     item.Title,
				Price:     item.Price,
				InStock:   item.InStock,
				URL:       item.URL,
				FirstSeen: at,
				LastSeen:  at,
			})
			continue
		}

		change, inStock, suppressed := classify(prev, item, obs.Incomplete)
		if suppressed {
			result.SuppressedSoldOut = append(result.SuppressedSoldOut, item.Code)
		}
		if change != nil {
			change.OccurredAt = at
			result.Changes = append(result.Changes, *change)
		} else {
			result.Unchanged++
		}
		result.Upserts = append(result.Upserts, merge(prev, item, inStock, at))
	}

	for code := range previous {
		if _, ok := seen[code]; !ok {
			result.Missing = append(result.Missing, code)
		}
	}
	sort.Strings(result.Missing)
	sortChanges(result.Changes)
	return result
}

// classify returns the single change for a known code, the in-stock value to
// persist, and whether a SOLDOUT was suppressed.
func classify(prev catalog.Item, item catalog.ObservedItem, incomplete bool) (*catalog.Change, bool, bool) {
	inStock := item.InStock
	restock := !prev.InStock && item.InStock
	soldOut := prev.InStock && !item.InStock
	suppressed := false
	if soldOut && incomplete {
		soldOut = false
		suppressed = true
		inStock = prev.InStock
	}
	titleChanged := prev.Title != item.Title
	priceChanged := prev.Price != item.Price

	payload := payloadOf(item, inStock)
	if payload.URL == "" {
		payload.URL = prev.URL
	}
	if titleChanged {
		payload.PreviousTitle = &prev.Title
	}
	if priceChanged {
		payload.PreviousPrice = &prev.Price
	}

	var kind catalog.ChangeType
	switch {
	case restock, soldOut:
		kind = catalog.ChangeRestock
		if soldOut {
			kind = catalog.ChangeSoldOut
		}
		was := prev.InStock
		payload.PreviousInStock = &was
	case titleChanged:
		kind = catalog.ChangeTitleUpdate
	case priceChanged:
		kind = catalog.ChangePriceUpdate
	default:
		return nil, inStock, suppressed
	}
	return &catalog.Change{Code: item.Code, Type: kind, Payload: payload}, inStock, suppressed
}

func payloadOf(item catalog.ObservedItem, inStock bool) catalog.Payload {
	return catalog.Payload{
		Title:   item.Title,
		Price:   item.Price,
		InStock: inStock,
		URL:     item.URL,
	}
}

func merge(prev catalog.Item, item catalog.ObservedItem, inStock bool, at time.Time) catalog.Item {
	merged := catalog.Item{
		Code:      item.Code,
		Title:     item.Title,
		Price:     item.Price,
		InStock:   inStock,
		URL:       item.URL,
		FirstSeen: prev.FirstSeen,
		LastSeen:  prev.LastSeen,
	}
	if merged.URL == "" {
		merged.URL = prev.URL
	}
	if merged.FirstSeen.IsZero() {
		merged.FirstSeen = at
	}
	if at.After(merged.LastSeen) {
		merged.LastSeen = at
	}
	return merged
}

func sortChanges(changes []catalog.Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		ri, rj := changes[i].Type.Rank(), changes[j].Type.Rank()
		if ri != rj {
			return ri < rj
		}
		return changes[i].Code < changes[j].Code
	})
}
