package issuer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// LoadKey reads a PEM-encoded private key. ECDSA, RSA and Ed25519 keys are accepted.
func LoadKey(path string) (jwk.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwk.ParseKey(data, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key %s: %w", path, err)
	}
	return prepareKey(key)
}

// GenerateKey returns a fresh P-256 key for ES256 signing.
func GenerateKey() (jwk.Key, error) {
	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap signing key: %w", err)
	}
	return prepareKey(key)
}

// prepareKey assigns a thumbprint key id and the algorithm implied by the key type.
func prepareKey(key jwk.Key) (jwk.Key, error) {
	alg, err := algorithmFor(key)
	if err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
		return nil, fmt.Errorf("failed to set key algorithm: %w", err)
	}
	if key.KeyID() == "" {
		if err := jwk.AssignKeyID(key); err != nil {
			return nil, fmt.Errorf("failed to assign key id: %w", err)
		}
	}
	return key, nil
}

func algorithmFor(key jwk.Key) (jwa.SignatureAlgorithm, error) {
	switch key.KeyType() {
	case jwa.EC:
		return jwa.ES256, nil
	case jwa.RSA:
		return jwa.RS256, nil
	case jwa.OKP:
		return jwa.EdDSA, nil
	default:
		return "", fmt.Errorf("unsupported signing key type %s", key.KeyType())
	}
}

// PublicSet returns the JWKS holding the public half of key.
func PublicSet(key jwk.Key) (jwk.Set, error) {
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("failed to build key set: %w", err)
	}
	return set, nil
}
