package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"

	"golang.org/x/crypto/ed25519"

	"github.com/wolfssl/wolfboot-core/werr"
)

// SignatureVerifier implements image.Verifier using the standard
// library's RSA-PSS and ECDSA support plus golang.org/x/crypto/ed25519,
// matching the signing algorithms the image-signing tooling this core
// parses against supports. It expects pubkey as a DER-encoded
// SubjectPublicKeyInfo (the form an external signing tool would embed),
// except for Ed25519 where pubkey is the raw 32-byte key.
type SignatureVerifier struct{}

// Verify checks sig over digest using pubkey, dispatching on keyType.
// hashAlg identifies the algorithm digest was computed with; RSA-PSS
// hashes its salt under the same algorithm, so it must be told rather
// than assumed.
func (SignatureVerifier) Verify(digest []byte, sig []byte, pubkey []byte, keyType KeyType, hashAlg crypto.Hash) (bool, error) {
	switch keyType {
	case KeyTypeRSA2048, KeyTypeRSA4096:
		pub, err := parseRSAPublicKey(pubkey)
		if err != nil {
			return false, err
		}
		err = rsa.VerifyPSS(pub, hashAlg, digest, sig, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       hashAlg,
		})
		return err == nil, nil

	case KeyTypeECC256, KeyTypeECC384:
		pub, err := parseECPublicKey(pubkey)
		if err != nil {
			return false, err
		}
		return ecdsa.VerifyASN1(pub, digest, sig), nil

	case KeyTypeEd25519:
		if len(pubkey) != ed25519.PublicKeySize {
			return false, werr.Fmt("ed25519 public key must be %d bytes, got %d",
				ed25519.PublicKeySize, len(pubkey))
		}
		return ed25519.Verify(ed25519.PublicKey(pubkey), digest, sig), nil

	default:
		return false, werr.Fmt("unsupported key type %v", keyType)
	}
}

func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		if pk, err2 := x509.ParsePKCS1PublicKey(der); err2 == nil {
			return pk, nil
		}
		return nil, werr.FmtChild(err, "failed to parse RSA public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, werr.New("public key is not an RSA key")
	}
	return rsaPub, nil
}

func parseECPublicKey(der []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, werr.FmtChild(err, "failed to parse EC public key")
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, werr.New("public key is not an EC key")
	}
	return ecPub, nil
}
