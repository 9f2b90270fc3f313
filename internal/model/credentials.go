package model

// CredentialsSchemaVersion is written into every vault payload so future
// fields can be added without breaking decryption of old entries.
const CredentialsSchemaVersion = 1

// Credentials is the plaintext form of a user's vault entry: how to reach
// their media server. It exists only in process memory for the lifetime of
// an authenticated session; at rest it is AES-GCM ciphertext.
//
// The struct is versioned (SchemaVersion) and serialized as canonical JSON
// before encryption. Decryption of a payload with an unknown version is
// rejected the same way as tampering; the caller re-saves credentials.
type Credentials struct {
	SchemaVersion int    `json:"schema_version"`
	BaseURL       string `json:"base_url"` // e.g. "http://sonarr:8989"
	APIKey        string `json:"api_key"`
}
