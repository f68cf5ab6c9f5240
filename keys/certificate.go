// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
)

// bridgeValidityYears is measured from the key's creation time.
const bridgeValidityYears = 10

// BridgeCertificate returns a self-signed X.509 certificate (DER) for
// the key's signing key, used to authenticate to servers that only
// accept TLS client certificates. The serial number is taken from the
// fingerprint.
func (k *PersonalKey) BridgeCertificate() ([]byte, error) {
	serial := new(big.Int).SetBytes(k.fingerprint[:16])
	if serial.Sign() == 0 {
		serial.SetInt64(1)
	}

	subject := pkix.Name{CommonName: k.userID.Name}
	if k.userID.Name == "" {
		subject.CommonName = k.userID.Email
	}
	if domain := k.userID.Domain(); domain != "" {
		subject.Organization = []string{domain}
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		EmailAddresses:        []string{k.userID.Email},
		NotBefore:             k.created,
		NotAfter:              k.created.AddDate(bridgeValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, k.signing.Public(), k.signing)
	if err != nil {
		return nil, &EncodingError{Op: "creating bridge certificate", Err: err}
	}
	return der, nil
}
