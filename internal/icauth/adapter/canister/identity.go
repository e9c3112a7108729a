package canister

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// selfAuthenticatingTag marks a principal derived from a public key.
const selfAuthenticatingTag = 0x02

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Identity is the key the service signs canister calls with.
type Identity struct {
	key       ed25519.PrivateKey
	principal string
}

// NewIdentity wraps an Ed25519 private key.
func NewIdentity(key ed25519.PrivateKey) (*Identity, error) {
	der, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	return &Identity{key: key, principal: SelfAuthenticatingPrincipal(der)}, nil
}

// GenerateIdentity creates a throwaway identity.
func GenerateIdentity() (*Identity, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return NewIdentity(key)
}

// LoadIdentity parses a base64-encoded PEM private key, the format dfx
// exports with `dfx identity export` piped through base64.
func LoadIdentity(encoded string) (*Identity, error) {
	pemBytes, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(encoded), ""))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 identity: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("identity is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing identity key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity key is %T, want ed25519", parsed)
	}
	return NewIdentity(key)
}

// EncodeIdentity is the inverse of LoadIdentity.
func EncodeIdentity(key ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("encoding identity key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return base64.StdEncoding.EncodeToString(pemBytes), nil
}

// Principal returns the textual principal of this identity.
func (i *Identity) Principal() string {
	return i.principal
}

// Sign returns a compact JWS over payload with the public key embedded,
// so the receiver can derive the sender principal from the signature.
func (i *Identity) Sign(payload []byte) (string, error) {
	opts := &jose.SignerOptions{EmbedJWK: true}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: i.key}, opts)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("signing payload: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serializing jws: %w", err)
	}
	return compact, nil
}

// VerifySignature checks that signature is a JWS over body and returns the
// principal of the key that produced it.
func VerifySignature(signature string, body []byte) (string, error) {
	jws, err := jose.ParseSigned(signature, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return "", fmt.Errorf("parsing signature: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return "", fmt.Errorf("unexpected signatures: %d", len(jws.Signatures))
	}
	jwk := jws.Signatures[0].Protected.JSONWebKey
	if jwk == nil {
		return "", errors.New("signature carries no embedded key")
	}
	pub, ok := jwk.Key.(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("embedded key is %T, want ed25519", jwk.Key)
	}
	payload, err := jws.Verify(pub)
	if err != nil {
		return "", fmt.Errorf("verifying signature: %w", err)
	}
	if !bytes.Equal(payload, body) {
		return "", errors.New("signature does not cover request body")
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	return SelfAuthenticatingPrincipal(der), nil
}

// SelfAuthenticatingPrincipal derives the textual principal for a
// DER-encoded public key: sha224(der) followed by the 0x02 tag.
func SelfAuthenticatingPrincipal(der []byte) string {
	sum := sha256.Sum224(der)
	return PrincipalText(append(sum[:], selfAuthenticatingTag))
}

// PrincipalText renders principal bytes in the dashed base32 form with a
// CRC32 checksum prefix, e.g. "2vxsx-fae" for the anonymous principal.
func PrincipalText(b []byte) string {
	buf := make([]byte, 4, 4+len(b))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(b))
	buf = append(buf, b...)

	s := strings.ToLower(principalEncoding.EncodeToString(buf))
	var out strings.Builder
	for i := 0; i < len(s); i += 5 {
		if i > 0 {
			out.WriteByte('-')
		}
		out.WriteString(s[i:min(i+5, len(s))])
	}
	return out.String()
}
