package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/faults"
	"stockwatch/internal/fileutil"
	"stockwatch/internal/textutil"
)

// StdinRef is the snapshot reference recorded for documents read from stdin.
const StdinRef = "stdin"

// MaxSize bounds a snapshot document.
const MaxSize = 64 << 20

type document struct {
	FetchedAt  *time.Time     `json:"fetched_at"`
	Source     string         `json:"source"`
	Incomplete bool           `json:"incomplete"`
	Items      []documentItem `json:"items"`
	Error      *fetchError    `json:"error"`
}

type documentItem struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Price   *int64 `json:"price"`
	InStock *bool  `json:"in_stock"`
	URL     string `json:"url"`
}

type fetchError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Load reads a snapshot from path, or from stdin when path is "-". Only I/O
// failures are returned as errors.
func Load(path string, stdin io.Reader, now time.Time) (catalog.Observation, error) {
	var (
		r   io.Reader
		ref string
	)
	if path == "" || path == "-" {
		r, ref = stdin, StdinRef
	} else {
		f, err := os.Open(path)
		if err != nil {
			return catalog.Observation{}, fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		r, ref = f, path
	}
	data, digest, err := fileutil.ReadDigest(r, MaxSize)
	if err != nil {
		return catalog.Observation{}, fmt.Errorf("read snapshot %s: %w", ref, err)
	}
	obs := Decode(data, now)
	obs.Snapshot = ref
	obs.Digest = digest
	return obs, nil
}

// Decode parses a snapshot document. now is used when the document carries
// no fetched_at.
func Decode(data []byte, now time.Time) catalog.Observation {
	obs := catalog.Observation{FetchedAt: now.UTC()}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		obs.FetchErr = faults.Wrap(faults.ErrLayoutChange, "fetched", "decode snapshot", "", err)
		return obs
	}
	if doc.FetchedAt != nil && !doc.FetchedAt.IsZero() {
		obs.FetchedAt = doc.FetchedAt.UTC()
	}
	obs.Source = strings.TrimSpace(doc.Source)
	if doc.Error != nil {
		obs.FetchErr = doc.Error.err()
		return obs
	}
	if doc.Items == nil {
		obs.FetchErr = faults.Wrap(faults.ErrLayoutChange, "fetched", "decode snapshot", "document has no items array", nil)
		return obs
	}

	obs.Incomplete = doc.Incomplete
	obs.Items = make([]catalog.ObservedItem, 0, len(doc.Items))
	for _, raw := range doc.Items {
		item, ok := raw.normalize()
		if !ok {
			obs.Incomplete = true
			continue
		}
		obs.Items = append(obs.Items, item)
	}
	return obs
}

// normalize rejects entries a parser could not have read completely.
func (d documentItem) normalize() (catalog.ObservedItem, bool) {
	code := textutil.NormalizeCode(d.Code)
	if code == "" || d.Price == nil || *d.Price < 0 || d.InStock == nil {
		return catalog.ObservedItem{}, false
	}
	return catalog.ObservedItem{
		Code:    code,
		Title:   textutil.NormalizeTitle(d.Title),
		Price:   *d.Price,
		InStock: *d.InStock,
		URL:     strings.TrimSpace(d.URL),
	}, true
}

func (e *fetchError) err() error {
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "fetch failed"
	}
	marker := faults.ErrNetwork
	switch strings.ToLower(strings.TrimSpace(e.Kind)) {
	case "layout", "layout_change", "parse":
		marker = faults.ErrLayoutChange
	}
	return faults.Wrap(marker, "fetched", "fetch catalogue", message, nil)
}

// Encode renders an observation as a snapshot document. It is the inverse
// of Decode for observations without a fetch error.
func Encode(obs catalog.Observation) ([]byte, error) {
	fetchedAt := obs.FetchedAt.UTC()
	doc := document{
		FetchedAt:  &fetchedAt,
		Source:     obs.Source,
		Incomplete: obs.Incomplete,
		Items:      make([]documentItem, 0, len(obs.Items)),
	}
	for _, item := range obs.Items {
		price := item.Price
		inStock := item.InStock
		doc.Items = append(doc.Items, documentItem{
			Code:    item.Code,
			Title:   item.Title,
			Price:   &price,
			InStock: &inStock,
			URL:     item.URL,
		})
	}
	if obs.FetchErr != nil {
		kind := "network"
		if errors.Is(obs.FetchErr, faults.ErrLayoutChange) {
			kind = "layout"
		}
		doc.Items = nil
		doc.Error = &fetchError{Kind: kind, Message: obs.FetchErr.Error()}
	}
	return json.MarshalIndent(doc, "", "  ")
}
