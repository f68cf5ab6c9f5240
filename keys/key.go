// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/provision/lib/codec"
	"github.com/bureau-foundation/provision/lib/sealed"
	"github.com/bureau-foundation/provision/lib/secret"
)

const (
	recordVersion = 1

	masterSize = 32

	signingKeyInfo = "provision.keys.signing.v1"

	// Creation times must leave the bridge certificate's validity
	// period inside the years X.509 can encode.
	minCreatedYear = 1
	maxCreatedYear = 9999 - bridgeValidityYears
)

// publicRecord is the signed part of the public blob.
type publicRecord struct {
	Version       int    `cbor:"v"`
	UserID        string `cbor:"uid"`
	SigningKey    []byte `cbor:"sig_key"`
	EncryptionKey string `cbor:"enc_key"`
	Created       int64  `cbor:"created"`
}

// signedPublic is the public blob. Record carries the exact encoded
// bytes that were signed and fingerprinted.
type signedPublic struct {
	Record    []byte `cbor:"record"`
	Signature []byte `cbor:"sig"`
}

// privateRecord is the plaintext inside the sealed private blob.
type privateRecord struct {
	Version    int    `cbor:"v"`
	Master     []byte `cbor:"master"`
	Encryption string `cbor:"enc"`
}

// PersonalKey is a decoded or freshly generated personal key. It is
// immutable once constructed.
type PersonalKey struct {
	userID      UserID
	created     time.Time
	fingerprint Fingerprint

	publicBlob []byte
	signingKey []byte

	master     []byte
	signing    ed25519.PrivateKey
	encryption string
	recipient  string
}

// Generate creates a new personal key for userID. The creation time is
// truncated to whole seconds.
func Generate(userID UserID, now time.Time) (*PersonalKey, error) {
	if _, err := ParseUserID(userID.String()); err != nil {
		return nil, err
	}
	if err := checkCreated(now.Unix()); err != nil {
		return nil, err
	}

	master := make([]byte, masterSize)
	if _, err := rand.Read(master); err != nil {
		return nil, &EncodingError{Op: "generating master secret", Err: err}
	}
	signing, err := deriveSigningKey(master)
	if err != nil {
		return nil, err
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, &EncodingError{Op: "generating encryption subkey", Err: err}
	}
	defer keypair.Close()

	record := publicRecord{
		Version:       recordVersion,
		UserID:        userID.String(),
		SigningKey:    signing.Public().(ed25519.PublicKey),
		EncryptionKey: keypair.PublicKey,
		Created:       now.Unix(),
	}
	recordBytes, err := codec.Marshal(record)
	if err != nil {
		return nil, &EncodingError{Op: "encoding public record", Err: err}
	}
	blob, err := codec.Marshal(signedPublic{
		Record:    recordBytes,
		Signature: ed25519.Sign(signing, recordBytes),
	})
	if err != nil {
		return nil, &EncodingError{Op: "encoding public blob", Err: err}
	}

	return &PersonalKey{
		userID:      userID,
		created:     time.Unix(record.Created, 0).UTC(),
		fingerprint: computeFingerprint(recordBytes),
		publicBlob:  blob,
		signingKey:  record.SigningKey,
		master:      master,
		signing:     signing,
		encryption:  keypair.PrivateKey.String(),
		recipient:   keypair.PublicKey,
	}, nil
}

// Decode reconstructs a personal key from its private and public
// blobs. Errors match ErrIncorrectPassphrase, ErrMalformed,
// ErrKeyMismatch or ErrInvalidSignature, except an *EncodingError for
// a local crypto failure.
func Decode(privateBlob, publicBlob []byte, passphrase string) (*PersonalKey, error) {
	signed, record, err := decodePublic(publicBlob)
	if err != nil {
		return nil, err
	}
	userID, err := ParseUserID(record.UserID)
	if err != nil {
		return nil, err
	}

	plaintext, err := sealed.Open(privateBlob, passphrase)
	if err != nil {
		if errors.Is(err, sealed.ErrIncorrectPassphrase) {
			return nil, fmt.Errorf("%w: %w", ErrIncorrectPassphrase, err)
		}
		return nil, fmt.Errorf("%w: private key: %v", ErrMalformed, err)
	}
	defer plaintext.Close()

	var private privateRecord
	if err := codec.Unmarshal(plaintext.Bytes(), &private); err != nil {
		return nil, fmt.Errorf("%w: private record: %v", ErrMalformed, err)
	}
	if private.Version != recordVersion {
		secret.Zero(private.Master)
		return nil, fmt.Errorf("%w: unsupported private record version %d", ErrMalformed, private.Version)
	}
	if len(private.Master) != masterSize {
		secret.Zero(private.Master)
		return nil, fmt.Errorf("%w: master secret has %d bytes, want %d", ErrMalformed, len(private.Master), masterSize)
	}

	signing, err := deriveSigningKey(private.Master)
	if err != nil {
		return nil, err
	}
	if !signing.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(record.SigningKey)) {
		return nil, fmt.Errorf("%w: signing key", ErrKeyMismatch)
	}
	recipient, err := sealed.RecipientOf(private.Encryption)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption subkey: %v", ErrMalformed, err)
	}
	if recipient != record.EncryptionKey {
		return nil, fmt.Errorf("%w: encryption subkey", ErrKeyMismatch)
	}
	if !ed25519.Verify(record.SigningKey, signed.Record, signed.Signature) {
		return nil, ErrInvalidSignature
	}

	return &PersonalKey{
		userID:      userID,
		created:     time.Unix(record.Created, 0).UTC(),
		fingerprint: computeFingerprint(signed.Record),
		publicBlob:  append([]byte(nil), publicBlob...),
		signingKey:  record.SigningKey,
		master:      private.Master,
		signing:     signing,
		encryption:  private.Encryption,
		recipient:   recipient,
	}, nil
}

// PublicKey is the verified content of a public blob alone.
type PublicKey struct {
	UserID        UserID
	Fingerprint   Fingerprint
	SigningKey    ed25519.PublicKey
	EncryptionKey string
	Created       time.Time
}

// DecodePublic parses and verifies a public blob without the private
// half.
func DecodePublic(publicBlob []byte) (*PublicKey, error) {
	signed, record, err := decodePublic(publicBlob)
	if err != nil {
		return nil, err
	}
	userID, err := ParseUserID(record.UserID)
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(record.SigningKey, signed.Record, signed.Signature) {
		return nil, ErrInvalidSignature
	}
	return &PublicKey{
		UserID:        userID,
		Fingerprint:   computeFingerprint(signed.Record),
		SigningKey:    record.SigningKey,
		EncryptionKey: record.EncryptionKey,
		Created:       time.Unix(record.Created, 0).UTC(),
	}, nil
}

func decodePublic(publicBlob []byte) (signedPublic, publicRecord, error) {
	var signed signedPublic
	if err := codec.Unmarshal(publicBlob, &signed); err != nil {
		return signedPublic{}, publicRecord{}, fmt.Errorf("%w: public key: %v", ErrMalformed, err)
	}
	var record publicRecord
	if err := codec.Unmarshal(signed.Record, &record); err != nil {
		return signedPublic{}, publicRecord{}, fmt.Errorf("%w: public record: %v", ErrMalformed, err)
	}
	if record.Version != recordVersion {
		return signedPublic{}, publicRecord{}, fmt.Errorf("%w: unsupported public record version %d", ErrMalformed, record.Version)
	}
	if len(record.SigningKey) != ed25519.PublicKeySize {
		return signedPublic{}, publicRecord{}, fmt.Errorf("%w: signing key has %d bytes", ErrMalformed, len(record.SigningKey))
	}
	if err := sealed.ParseRecipient(record.EncryptionKey); err != nil {
		return signedPublic{}, publicRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := checkCreated(record.Created); err != nil {
		return signedPublic{}, publicRecord{}, err
	}
	return signed, record, nil
}

func checkCreated(unix int64) error {
	year := time.Unix(unix, 0).UTC().Year()
	if year < minCreatedYear || year > maxCreatedYear {
		return fmt.Errorf("%w: creation year %d outside %d..%d", ErrMalformed, year, minCreatedYear, maxCreatedYear)
	}
	return nil
}

func deriveSigningKey(master []byte) (ed25519.PrivateKey, error) {
	reader := hkdf.New(sha256.New, master, nil, []byte(signingKeyInfo))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, &EncodingError{Op: "deriving signing key", Err: err}
	}
	defer secret.Zero(seed)
	return ed25519.NewKeyFromSeed(seed), nil
}

// Export returns the sealed private blob and the public blob.
// workFactor is the scrypt cost; zero selects the sealed package
// default.
func (k *PersonalKey) Export(passphrase string, workFactor int) (privateBlob, publicBlob []byte, err error) {
	plaintext, err := codec.Marshal(privateRecord{
		Version:    recordVersion,
		Master:     k.master,
		Encryption: k.encryption,
	})
	if err != nil {
		return nil, nil, &EncodingError{Op: "encoding private record", Err: err}
	}
	defer secret.Zero(plaintext)

	privateBlob, err = sealed.Seal(plaintext, passphrase, workFactor)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: sealing private key: %w", err)
	}
	return privateBlob, k.PublicKeyBytes(), nil
}

// UserID returns the owner named in the public record.
func (k *PersonalKey) UserID() UserID { return k.userID }

// Fingerprint returns the key's fingerprint.
func (k *PersonalKey) Fingerprint() Fingerprint { return k.fingerprint }

// Created returns the key's creation time.
func (k *PersonalKey) Created() time.Time { return k.created }

// PublicKeyBytes returns a copy of the public blob.
func (k *PersonalKey) PublicKeyBytes() []byte {
	return append([]byte(nil), k.publicBlob...)
}

// SigningPublicKey returns the ed25519 public key.
func (k *PersonalKey) SigningPublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), k.signingKey...)
}

// EncryptionRecipient returns the age1... recipient of the encryption
// subkey.
func (k *PersonalKey) EncryptionRecipient() string { return k.recipient }

// Sign signs message with the key's signing key.
func (k *PersonalKey) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.signing, message), nil
}
