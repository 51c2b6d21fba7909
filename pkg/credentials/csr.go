package credentials

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"

	"github.com/matterkeep/sessiond/pkg/tlv"
)

// NOCSR TLV context tags (Matter spec Section 11.18.6.8, NOCSRElements).
const (
	tagNOCSRCSR       uint8 = 1
	tagNOCSRCSRNonce  uint8 = 2
	tagNOCSRVendorRsv uint8 = 3
)

// unwrapCSRTLVEnvelope extracts the raw PKCS#10 CSR bytes from a
// NOCSRElements TLV structure: an anonymous structure containing the CSR
// as a byte string at context tag 1, plus a nonce and vendor-reserved
// fields this issuer does not need to validate the CSR itself.
func unwrapCSRTLVEnvelope(envelope []byte) ([]byte, error) {
	r := tlv.NewReader(bytes.NewReader(envelope))
	if err := r.Next(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	if r.Type() != tlv.ElementTypeStruct {
		return nil, fmt.Errorf("%w: expected structure, got %v", ErrInvalidCSR, r.Type())
	}
	if err := r.EnterContainer(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}

	var csr []byte
	for {
		if err := r.Next(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
		}
		if r.IsEndOfContainer() {
			break
		}
		tag := r.Tag()
		if !tag.IsContext() {
			if err := r.Skip(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
			}
			continue
		}
		if uint8(tag.TagNumber()) == tagNOCSRCSR {
			b, err := r.Bytes()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
			}
			csr = b
			continue
		}
		if err := r.Skip(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
		}
	}

	if csr == nil {
		return nil, fmt.Errorf("%w: no CSR field in envelope", ErrInvalidCSR)
	}
	return csr, nil
}

// parseCSRPublicKey parses a PKCS#10 CertificationRequest and returns its
// public key in the uncompressed P-256 point format Matter certificates use.
func parseCSRPublicKey(rawCSR []byte) ([]byte, error) {
	req, err := x509.ParseCertificateRequest(rawCSR)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	if err := req.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: signature check failed: %v", ErrInvalidCSR, err)
	}

	pub, ok := req.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: CSR public key is not ECDSA", ErrInvalidCSR)
	}
	if pub.Curve.Params().Name != "P-256" {
		return nil, fmt.Errorf("%w: CSR public key is not P-256", ErrInvalidCSR)
	}

	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	return ecdhPub.Bytes(), nil
}
