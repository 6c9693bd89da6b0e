package ledger

// EntryHash exposes the default entry hash to the external test package.
func EntryHash(e *Entry) string { return SHA256Hex(entryPreimage(e)) }
