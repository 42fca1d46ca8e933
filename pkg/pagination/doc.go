// Package pagination walks the paged list endpoints of the identity APIs and
// splits large key lists into request-sized chunks.
//
// List endpoints answer with an envelope holding a page of results and the
// absolute URL of the next page:
//
//	{"results": [...], "next": "https://.../cards/?cursor=abc"}
//
// Walk turns such an endpoint into a lazy record sequence:
//
//	for card, err := range pagination.Walk(ctx, apiClient, spec) {
//		if err != nil {
//			return err
//		}
//		process(card)
//	}
//
// The walker:
//   - Holds at most one page in memory
//   - Follows next links with a plain GET (no body, no extra query)
//   - Stops requesting pages as soon as the consumer stops pulling
//   - Yields a failure once and then ends the sequence
//
// Chunks and WalkChunks split identifier lists for filter endpoints that
// accept a bounded number of keys per request. BatchFetcher fetches
// independent items (such as card details) with a bounded worker pool.
package pagination
