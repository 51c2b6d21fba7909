package credentials

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matterkeep/sessiond/pkg/crypto"
	"github.com/matterkeep/sessiond/pkg/fabric"
	"github.com/matterkeep/sessiond/pkg/tlv"
)

// Storage keys the issuer uses to persist its CA key material and
// self-signed root/intermediate certificates across restarts.
const (
	storageKeyRootKeypair         = "ExampleOpCredsCAKey"
	storageKeyIntermediateKeypair = "ExampleOpCredsICAKey"
	storageKeyRootCert            = "ExampleCARootCert"
	storageKeyIntermediateCert    = "ExampleCAIntermediateCert"
)

// CertValidityNoExpiration is the NotAfter value meaning "does not expire".
const CertValidityNoExpiration = 0

// DefaultCertValidityStart is the "now" ExampleOperationalCredentialsIssuer
// backdates every certificate it mints to, rather than the wall-clock time
// of issuance.
var DefaultCertValidityStart = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultCertValidityYears is how many calendar years a minted root,
// intermediate, or NOC certificate remains valid from its NotBefore.
const DefaultCertValidityYears = 10

// KVStore is the minimal persistence contract the issuer needs to keep its
// root/intermediate key material and certificates across restarts.
type KVStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// NOCChain is a freshly minted Node Operational Certificate chain: the NOC
// itself, its issuing ICAC (may be empty if the root issues directly), and
// the RCAC anchoring the fabric.
type NOCChain struct {
	NOC  *Certificate
	ICAC *Certificate // nil when the fabric has no intermediate
	RCAC *Certificate
	IPK  []byte
}

// Issuer mints NOC chains for a single fabric-issuing CA, in the shape of
// CHIP's example operational credentials issuer: one self-signed root, one
// intermediate signed by the root, and NOCs signed by whichever of the two
// is configured to issue leaf certificates.
type Issuer struct {
	mu sync.Mutex

	store KVStore

	rootKey         *crypto.P256KeyPair
	intermediateKey *crypto.P256KeyPair
	rootCert        *Certificate
	intermediateCert *Certificate

	useIntermediate bool // whether GenerateNOCChain issues from the ICAC

	fabricID fabric.FabricID
	rcacID   uint64
	icacID   uint64

	nextAvailableNodeID  fabric.NodeID
	nodeIDRequested      bool
	nextRequestedNodeID  fabric.NodeID

	now func() time.Time // fixed validity start for every minted certificate
}

// IssuerConfig configures a new Issuer.
type IssuerConfig struct {
	// Store persists CA key material and certificates across restarts.
	Store KVStore

	// FabricID is the fabric this issuer mints NOCs for.
	FabricID fabric.FabricID

	// UseIntermediate selects whether NOCs are signed by the ICAC (true)
	// or directly by the RCAC (false).
	UseIntermediate bool

	// Now returns the validity-start timestamp stamped onto every minted
	// certificate's NotBefore, with NotAfter computed DefaultCertValidityYears
	// later. Defaults to a function returning DefaultCertValidityStart,
	// matching ExampleOperationalCredentialsIssuer's fixed 2021-01-01 epoch.
	Now func() time.Time
}

// NewIssuer creates an issuer bound to store, uninitialized until
// Initialize is called.
func NewIssuer(config IssuerConfig) (*Issuer, error) {
	if config.Store == nil {
		return nil, ErrStoreRequired
	}
	if config.FabricID == fabric.FabricIDInvalid {
		return nil, ErrInvalidFabricID
	}
	now := config.Now
	if now == nil {
		now = func() time.Time { return DefaultCertValidityStart }
	}
	return &Issuer{
		store:               config.Store,
		useIntermediate:      config.UseIntermediate,
		fabricID:             config.FabricID,
		nextAvailableNodeID:  fabric.NodeIDMinOperational,
		now:                  now,
	}, nil
}

// validityWindow returns the (NotBefore, NotAfter) Matter-epoch pair stamped
// onto every certificate this issuer mints: iss.now() through
// DefaultCertValidityYears later.
func (iss *Issuer) validityWindow() (notBefore, notAfter uint32) {
	start := iss.now()
	end := start.AddDate(DefaultCertValidityYears, 0, 0)
	return TimeToMatterEpoch(start), TimeToMatterEpoch(end)
}

// Initialize loads the issuer's root and intermediate key material and
// certificates from the store, generating and persisting them on first run.
func (iss *Issuer) Initialize() error {
	iss.mu.Lock()
	defer iss.mu.Unlock()

	rootKey, rootCert, err := iss.loadOrCreateRoot()
	if err != nil {
		return fmt.Errorf("root CA: %w", err)
	}
	iss.rootKey = rootKey
	iss.rootCert = rootCert
	iss.rcacID = rootCert.RCACID()

	intKey, intCert, err := iss.loadOrCreateIntermediate(rootKey, rootCert)
	if err != nil {
		return fmt.Errorf("intermediate CA: %w", err)
	}
	iss.intermediateKey = intKey
	iss.intermediateCert = intCert
	iss.icacID = intCert.ICACID()

	return nil
}

// RootCertificate returns the issuer's self-signed root certificate.
func (iss *Issuer) RootCertificate() *Certificate {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return iss.rootCert
}

// IntermediateCertificate returns the issuer's intermediate certificate.
func (iss *Issuer) IntermediateCertificate() *Certificate {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return iss.intermediateCert
}

// SetNextNodeID pins the node ID used by the next GenerateNOCChain call,
// bypassing the internal node ID counter. Mirrors the "requested node ID" path CHIP's
// issuer takes when commissioning software already picked a node ID.
func (iss *Issuer) SetNextNodeID(nodeID fabric.NodeID) {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	iss.nodeIDRequested = true
	iss.nextRequestedNodeID = nodeID
}

// GenerateNOCChainAfterValidation mints a NOC for peerPublicKey directly from
// a caller-supplied node ID, fabric ID, and CASE Authenticated Tags, skipping
// CSR parsing. Used by commissioning flows that already verified the CSR and
// just need the chain minted.
func (iss *Issuer) GenerateNOCChainAfterValidation(nodeID fabric.NodeID, catTags []uint32, peerPublicKey []byte) (*NOCChain, error) {
	iss.mu.Lock()
	defer iss.mu.Unlock()

	if iss.rootCert == nil {
		return nil, ErrIssuerNotInitialized
	}
	return iss.issueNOC(nodeID, catTags, peerPublicKey)
}

// GenerateNOCChain parses a CSR envelope (the TLV structure a node sends
// during commissioning: an anonymous structure with the raw CSR bytes at
// context tag 1), assigns a node ID, and mints the NOC chain.
//
// If SetNextNodeID was called since the last GenerateNOCChain, that node ID
// is consumed and cleared; otherwise a node ID is allocated from an
// internal counter.
func (iss *Issuer) GenerateNOCChain(csrEnvelope []byte, catTags []uint32) (*NOCChain, error) {
	csr, err := unwrapCSRTLVEnvelope(csrEnvelope)
	if err != nil {
		return nil, err
	}
	pubKey, err := parseCSRPublicKey(csr)
	if err != nil {
		return nil, err
	}

	iss.mu.Lock()
	defer iss.mu.Unlock()

	if iss.rootCert == nil {
		return nil, ErrIssuerNotInitialized
	}

	nodeID, err := iss.nextNodeIDLocked()
	if err != nil {
		return nil, err
	}

	return iss.issueNOC(nodeID, catTags, pubKey)
}

// nextNodeIDLocked returns the node ID to assign to the next NOC, consuming
// a pinned request if present, otherwise allocating from an ever-increasing
// counter seeded at fabric.NodeIDMinOperational. Callers must hold iss.mu.
func (iss *Issuer) nextNodeIDLocked() (fabric.NodeID, error) {
	if iss.nodeIDRequested {
		iss.nodeIDRequested = false
		return iss.nextRequestedNodeID, nil
	}
	id := iss.nextAvailableNodeID
	if !id.IsOperational() {
		return 0, ErrNodeIDSpaceExhausted
	}
	iss.nextAvailableNodeID = id + 1
	return id, nil
}

// issueNOC builds and signs a NOC for nodeID over peerPublicKey, issued by
// the intermediate or root CA depending on configuration. Callers must hold
// iss.mu.
func (iss *Issuer) issueNOC(nodeID fabric.NodeID, catTags []uint32, peerPublicKey []byte) (*NOCChain, error) {
	if len(catTags) > 3 {
		return nil, ErrTooManyNOCCATs
	}
	if err := crypto.P256ValidatePublicKey(peerPublicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	issuerKey := iss.rootKey
	issuerCert := iss.rootCert
	if iss.useIntermediate {
		issuerKey = iss.intermediateKey
		issuerCert = iss.intermediateCert
	}

	subject := DistinguishedName{
		NewDNUint64(TagDNMatterNodeID, uint64(nodeID)),
		NewDNUint64(TagDNMatterFabricID, uint64(iss.fabricID)),
	}
	for _, cat := range catTags {
		subject = append(subject, NewDNUint64(TagDNMatterNOCCAT, uint64(cat)))
	}

	serial, err := randomSerialNumber()
	if err != nil {
		return nil, err
	}

	notBefore, notAfter := iss.validityWindow()
	noc := &Certificate{
		SerialNum:  serial,
		SigAlgo:    SignatureAlgoECDSASHA256,
		Issuer:     issuerCert.Subject,
		NotBefore:  notBefore,
		NotAfter:   notAfter,
		Subject:    subject,
		PubKeyAlgo: PublicKeyAlgoEC,
		ECCurveID:  EllipticCurvePrime256v1,
		ECPubKey:   peerPublicKey,
		Extensions: Extensions{
			BasicConstraints: &BasicConstraints{IsCA: false},
			KeyUsage:         &KeyUsageExt{Usage: KeyUsageDigitalSignature},
			ExtendedKeyUsage: &ExtendedKeyUsageExt{
				KeyPurposes: []KeyPurposeID{KeyPurposeServerAuth, KeyPurposeClientAuth},
			},
			SubjectKeyID:   &SubjectKeyIDExt{KeyID: subjectKeyID(peerPublicKey)},
			AuthorityKeyID: &AuthorityKeyIDExt{KeyID: issuerCert.Extensions.SubjectKeyID.KeyID},
		},
	}

	if err := signCertificate(noc, issuerKey); err != nil {
		return nil, err
	}

	chain := &NOCChain{
		NOC:  noc,
		RCAC: iss.rootCert,
	}
	if iss.useIntermediate {
		chain.ICAC = iss.intermediateCert
	}
	return chain, nil
}

// loadOrCreateRoot loads the root keypair and self-signed certificate from
// the store, generating and persisting both on first use.
func (iss *Issuer) loadOrCreateRoot() (*crypto.P256KeyPair, *Certificate, error) {
	keyBytes, err := iss.store.Get(storageKeyRootKeypair)
	if err == nil {
		certBytes, err := iss.store.Get(storageKeyRootCert)
		if err != nil {
			return nil, nil, err
		}
		key, err := crypto.P256KeyPairFromPrivateKey(keyBytes)
		if err != nil {
			return nil, nil, err
		}
		cert, err := DecodeTLV(certBytes)
		if err != nil {
			return nil, nil, err
		}
		return key, cert, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, nil, err
	}

	key, err := crypto.P256GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	rcacID, err := randomUint64()
	if err != nil {
		return nil, nil, err
	}

	skid := subjectKeyID(key.P256PublicKey())
	subject := DistinguishedName{
		NewDNUint64(TagDNMatterRCACID, rcacID),
		NewDNUint64(TagDNMatterFabricID, uint64(iss.fabricID)),
	}

	serial, err := randomSerialNumber()
	if err != nil {
		return nil, nil, err
	}

	notBefore, notAfter := iss.validityWindow()
	cert := &Certificate{
		SerialNum:  serial,
		SigAlgo:    SignatureAlgoECDSASHA256,
		Issuer:     subject,
		NotBefore:  notBefore,
		NotAfter:   notAfter,
		Subject:    subject,
		PubKeyAlgo: PublicKeyAlgoEC,
		ECCurveID:  EllipticCurvePrime256v1,
		ECPubKey:   key.P256PublicKey(),
		Extensions: Extensions{
			BasicConstraints: &BasicConstraints{IsCA: true},
			KeyUsage:         &KeyUsageExt{Usage: KeyUsageKeyCertSign | KeyUsageCRLSign},
			SubjectKeyID:     &SubjectKeyIDExt{KeyID: skid},
			AuthorityKeyID:   &AuthorityKeyIDExt{KeyID: skid},
		},
	}
	if err := signCertificate(cert, key); err != nil {
		return nil, nil, err
	}

	if err := iss.persistKeypairAndCert(storageKeyRootKeypair, storageKeyRootCert, key, cert); err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}

// loadOrCreateIntermediate loads the intermediate keypair and certificate
// from the store, generating and persisting both (signed by rootKey/rootCert)
// on first use.
func (iss *Issuer) loadOrCreateIntermediate(rootKey *crypto.P256KeyPair, rootCert *Certificate) (*crypto.P256KeyPair, *Certificate, error) {
	keyBytes, err := iss.store.Get(storageKeyIntermediateKeypair)
	if err == nil {
		certBytes, err := iss.store.Get(storageKeyIntermediateCert)
		if err != nil {
			return nil, nil, err
		}
		key, err := crypto.P256KeyPairFromPrivateKey(keyBytes)
		if err != nil {
			return nil, nil, err
		}
		cert, err := DecodeTLV(certBytes)
		if err != nil {
			return nil, nil, err
		}
		return key, cert, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, nil, err
	}

	key, err := crypto.P256GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	icacID, err := randomUint64()
	if err != nil {
		return nil, nil, err
	}

	subject := DistinguishedName{
		NewDNUint64(TagDNMatterICACID, icacID),
		NewDNUint64(TagDNMatterFabricID, uint64(iss.fabricID)),
	}

	serial, err := randomSerialNumber()
	if err != nil {
		return nil, nil, err
	}

	notBefore, notAfter := iss.validityWindow()
	cert := &Certificate{
		SerialNum:  serial,
		SigAlgo:    SignatureAlgoECDSASHA256,
		Issuer:     rootCert.Subject,
		NotBefore:  notBefore,
		NotAfter:   notAfter,
		Subject:    subject,
		PubKeyAlgo: PublicKeyAlgoEC,
		ECCurveID:  EllipticCurvePrime256v1,
		ECPubKey:   key.P256PublicKey(),
		Extensions: Extensions{
			BasicConstraints: &BasicConstraints{IsCA: true},
			KeyUsage:         &KeyUsageExt{Usage: KeyUsageKeyCertSign | KeyUsageCRLSign},
			SubjectKeyID:     &SubjectKeyIDExt{KeyID: subjectKeyID(key.P256PublicKey())},
			AuthorityKeyID:   &AuthorityKeyIDExt{KeyID: rootCert.Extensions.SubjectKeyID.KeyID},
		},
	}
	if err := signCertificate(cert, rootKey); err != nil {
		return nil, nil, err
	}

	if err := iss.persistKeypairAndCert(storageKeyIntermediateKeypair, storageKeyIntermediateCert, key, cert); err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}

func (iss *Issuer) persistKeypairAndCert(keyName, certName string, key *crypto.P256KeyPair, cert *Certificate) error {
	if err := iss.store.Set(keyName, key.P256PrivateKey()); err != nil {
		return err
	}
	certBytes, err := cert.EncodeTLV()
	if err != nil {
		return err
	}
	return iss.store.Set(certName, certBytes)
}

// signCertificate computes cert's signature over its TBS (to-be-signed)
// encoding using key, and stores the raw r||s signature on cert.
func signCertificate(cert *Certificate, key *crypto.P256KeyPair) error {
	tbs, err := encodeTBS(cert)
	if err != nil {
		return err
	}
	sig, err := crypto.P256Sign(key, tbs)
	if err != nil {
		return err
	}
	cert.Signature = sig
	return nil
}

// encodeTBS encodes every certificate field except the signature, in the
// same field order WriteTLV uses, so the signature covers exactly what a
// verifier reconstructs.
func encodeTBS(cert *Certificate) ([]byte, error) {
	unsigned := *cert
	unsigned.Signature = nil

	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(TagSerialNum), unsigned.SerialNum); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(TagSigAlgo), uint64(unsigned.SigAlgo)); err != nil {
		return nil, err
	}
	if err := unsigned.Issuer.EncodeTLV(w, tlv.ContextTag(TagIssuer)); err != nil {
		return nil, err
	}
	if err := w.PutUintWithWidth(tlv.ContextTag(TagNotBefore), uint64(unsigned.NotBefore), 4); err != nil {
		return nil, err
	}
	if err := w.PutUintWithWidth(tlv.ContextTag(TagNotAfter), uint64(unsigned.NotAfter), 4); err != nil {
		return nil, err
	}
	if err := unsigned.Subject.EncodeTLV(w, tlv.ContextTag(TagSubject)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(TagPubKeyAlgo), uint64(unsigned.PubKeyAlgo)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(TagECCurveID), uint64(unsigned.ECCurveID)); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(TagECPubKey), unsigned.ECPubKey); err != nil {
		return nil, err
	}
	if err := unsigned.Extensions.EncodeTLV(w); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// subjectKeyID computes the SHA-1-sized identifier CHIP derives from a
// public key: the low 20 bytes of its SHA-256 hash. Matter does not require
// SHA-1 specifically, only a 20-byte identifier unique per key.
func subjectKeyID(pubKey []byte) [20]byte {
	h := crypto.SHA256Slice(pubKey)
	var id [20]byte
	copy(id[:], h[len(h)-20:])
	return id
}

func randomSerialNumber() ([]byte, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	// Clear the high bit so the big-endian value is never negative once
	// re-parsed as a signed ASN.1 INTEGER.
	b[0] &^= 0x80
	return b, nil
}

func randomUint64() (uint64, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
