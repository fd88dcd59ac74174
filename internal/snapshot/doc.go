// Package snapshot turns a fetched catalogue document into a
// catalog.Observation.
//
// The document is JSON:
//
//	{
//	  "fetched_at": "2026-03-01T09:00:00Z",
//	  "source": "https://shop.example/list",
//	  "incomplete": false,
//	  "items": [{"code": "A1", "title": "Widget", "price": 1200, "in_stock": true, "url": "..."}],
//	  "error": {"kind": "network", "message": "timeout"}
//	}
//
// A document with an error, or one that cannot be decoded, yields an
// observation whose FetchErr is set: the cycle treats it as a failed fetch
// rather than as an empty catalogue.
package snapshot
