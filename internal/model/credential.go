package model

import "time"

// CredentialDescriptor is the minimal OAuth client identity a user supplies
// to authorize calendar API access on their behalf. It only ever exists in
// plaintext in memory; at rest it is stored encrypted as a CredentialRecord.
type CredentialDescriptor struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AccountEmail string `json:"account_email,omitempty"`
}

// CredentialRecord holds one user's encrypted credential blob. The
// ciphertext column is the authenticated-encryption output of the
// serialized CredentialDescriptor; the plaintext is never persisted.
type CredentialRecord struct {
	UserID     string    `db:"user_id"`
	Ciphertext []byte    `db:"ciphertext"`
	UpdatedAt  time.Time `db:"updated_at"`
}
