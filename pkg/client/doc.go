// Package client is the Go SDK for a stockledger server.
//
// It reads the hash-chained ledger over HTTP: the chain overview, single
// entries by sequence or hash, ordered ranges, and server-side integrity
// checks.
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := c.Verify(ctx, 0, client.ToTail)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !res.Valid {
//	    log.Printf("chain diverges at %d: %s", res.AtSequence, res.Reason)
//	}
//
// Range follows the server's paging, so callers receive the whole span in
// one slice:
//
//	entries, err := c.Range(ctx, 100, 199)
//
// Errors from the server are *APIError values. A 503 carries Retryable=true
// when the ledger store was temporarily unavailable or lost a write race;
// errors.Is(err, client.ErrNotFound) matches 404s.
package client
