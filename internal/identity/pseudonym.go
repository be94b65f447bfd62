// Package identity derives pseudonymous participant ids from external panel
// ids and keeps the panel id recoverable only with the study secret.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/personachat/personachat/internal/core"
)

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams matches the cost used for passphrase keys: 3 passes, 64 MiB, 4 lanes.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

// Pseudonymizer maps external ids to stable participant ids for one study.
type Pseudonymizer struct {
	salt   []byte
	sealer []byte // XChaCha20-Poly1305 key
	params Params
}

// NewPseudonymizer derives the id salt and sealing key from the study secret.
// The same secret and study always produce the same ids.
func NewPseudonymizer(secret, studyID string, params Params) (*Pseudonymizer, error) {
	if secret == "" {
		return nil, core.E(core.KindConfiguration, "identity.NewPseudonymizer", core.ErrMissingRequired)
	}
	if params.Time == 0 {
		params = DefaultParams
	}

	salt := sha256.Sum256([]byte("personachat/id/" + studyID))
	sealSalt := sha256.Sum256([]byte("personachat/seal/" + studyID))

	return &Pseudonymizer{
		salt:   argon2.IDKey([]byte(secret), salt[:], params.Time, params.Memory, params.Threads, 32),
		sealer: argon2.IDKey([]byte(secret), sealSalt[:], params.Time, params.Memory, params.Threads, chacha20poly1305.KeySize),
		params: params,
	}, nil
}

// ID returns the participant id for an external id. Surrounding whitespace
// and letter case of the external id do not matter.
func (p *Pseudonymizer) ID(externalID string) core.ParticipantID {
	norm := strings.ToLower(strings.TrimSpace(externalID))
	key := argon2.IDKey([]byte(norm), p.salt, 1, p.params.Memory/4+8, p.params.Threads, 16)
	return core.ParticipantID("p_" + hex.EncodeToString(key))
}

// Seal encrypts an external id for storage.
func (p *Pseudonymizer) Seal(externalID string) (string, error) {
	aead, err := chacha20poly1305.NewX(p.sealer)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(externalID), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open recovers an external id sealed with the same secret and study.
func (p *Pseudonymizer) Open(sealed string) (string, error) {
	const op = "identity.Open"
	data, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", core.Ef(core.KindValidation, op, "%w: %v", core.ErrInvalidInput, err)
	}

	aead, err := chacha20poly1305.NewX(p.sealer)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return "", core.Ef(core.KindValidation, op, "%w: sealed value too short", core.ErrInvalidInput)
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", core.Ef(core.KindValidation, op, "%w: wrong secret or corrupted value", core.ErrInvalidInput)
	}
	return string(plain), nil
}
