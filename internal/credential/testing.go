package credential

// SeedCredential is a test helper that places c directly into an in-memory
// store, bypassing the holder check. The token counter advances past c.TokenID.
func SeedCredential(s Store, c Credential) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.tokens[c.TokenID] = c
		if c.TokenID > mem.lastID {
			mem.lastID = c.TokenID
		}
	}
}
