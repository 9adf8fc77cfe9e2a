package registry

// Request bodies only describe the JSON shape. Field rules are enforced by
// the service after the pause and role gates.

type docHashRequest struct {
	DocHash string `json:"doc_hash"`
}

type delegateRequest struct {
	Delegate string `json:"delegate"`
}

type batchRequest struct {
	Identities []string `json:"identities"`
	DocHashes  []string `json:"doc_hashes"`
}

type issuerRequest struct {
	Actor string `json:"actor"`
}

type issueRequest struct {
	Subject        string `json:"subject"`
	DocHash        string `json:"doc_hash"`
	CredentialType string `json:"credential_type"`
}

type pageResponse struct {
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
	DIDs   []Record `json:"dids"`
}
