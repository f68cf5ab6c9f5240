// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keypack reads and writes key packages: the zip archives a
// user exports from one device and imports on another to restore an
// identity.
//
// A package holds:
//
//	private.key    sealed private blob (required)
//	public.key     public blob (required)
//	account.yaml   phone number, server, display name (optional)
//	trusted.json   peer id -> fingerprint, JSON with comments (optional)
package keypack

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zip"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/provision/keys"
)

// Archive entry names.
const (
	EntryPrivateKey = "private.key"
	EntryPublicKey  = "public.key"
	EntryAccount    = "account.yaml"
	EntryTrusted    = "trusted.json"
)

// MaxPackSize bounds the bytes Read consumes. Packages are a few
// kilobytes; anything near this size is not a key package.
const MaxPackSize = 1 << 20

// ErrIO marks failures reading the caller's stream, as opposed to
// problems with what was read.
var ErrIO = errors.New("keypack: read failed")

// AccountInfo is the optional account.yaml entry. Only PhoneNumber
// affects an import; ServerURI and DisplayName record the exporting
// account.
type AccountInfo struct {
	PhoneNumber string `yaml:"phone_number,omitempty"`
	ServerURI   string `yaml:"server_uri,omitempty"`
	DisplayName string `yaml:"display_name,omitempty"`
}

// Pack is a parsed key package. The key blobs are not decrypted until
// Decode.
type Pack struct {
	PrivateKey []byte
	PublicKey  []byte
	Account    AccountInfo

	trusted []byte
}

// Read parses a key package from r. I/O failures match ErrIO; a
// corrupt archive or a missing required entry matches
// keys.ErrMalformed.
func Read(r io.Reader) (*Pack, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPackSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if len(data) > MaxPackSize {
		return nil, fmt.Errorf("%w: key package exceeds %d bytes", keys.ErrMalformed, MaxPackSize)
	}

	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: key package: %v", keys.ErrMalformed, err)
	}

	pack := &Pack{}
	var accountYAML []byte
	seen := make(map[string]bool)
	for _, file := range archive.File {
		var target *[]byte
		switch file.Name {
		case EntryPrivateKey:
			target = &pack.PrivateKey
		case EntryPublicKey:
			target = &pack.PublicKey
		case EntryAccount:
			target = &accountYAML
		case EntryTrusted:
			target = &pack.trusted
		default:
			// Unknown entries are ignored so newer exporters can add
			// files.
			continue
		}
		if seen[file.Name] {
			return nil, fmt.Errorf("%w: duplicate entry %s", keys.ErrMalformed, file.Name)
		}
		seen[file.Name] = true
		if err := readEntry(file, target); err != nil {
			return nil, err
		}
	}

	if len(accountYAML) > 0 {
		if err := yaml.Unmarshal(accountYAML, &pack.Account); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", keys.ErrMalformed, EntryAccount, err)
		}
	}
	if len(pack.PrivateKey) == 0 {
		return nil, fmt.Errorf("%w: key package has no %s", keys.ErrMalformed, EntryPrivateKey)
	}
	if len(pack.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: key package has no %s", keys.ErrMalformed, EntryPublicKey)
	}
	return pack, nil
}

func readEntry(file *zip.File, target *[]byte) error {
	reader, err := file.Open()
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", keys.ErrMalformed, file.Name, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, MaxPackSize+1))
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", keys.ErrMalformed, file.Name, err)
	}
	if len(data) > MaxPackSize {
		return fmt.Errorf("%w: %s expands beyond %d bytes", keys.ErrMalformed, file.Name, MaxPackSize)
	}
	*target = data
	return nil
}

// Decode decrypts the key blobs with passphrase. Errors are those of
// keys.Decode.
func (p *Pack) Decode(passphrase string) (*keys.PersonalKey, error) {
	return keys.Decode(p.PrivateKey, p.PublicKey, passphrase)
}

// TrustedKeys parses the trusted-fingerprint table. A package without
// one returns a nil map and no error.
func (p *Pack) TrustedKeys() (map[string]keys.Fingerprint, error) {
	if len(p.trusted) == 0 {
		return nil, nil
	}
	var raw map[string]string
	if err := json.Unmarshal(jsonc.ToJSON(p.trusted), &raw); err != nil {
		return nil, fmt.Errorf("keypack: parsing %s: %w", EntryTrusted, err)
	}
	trusted := make(map[string]keys.Fingerprint, len(raw))
	for peer, text := range raw {
		fingerprint, err := keys.ParseFingerprint(text)
		if err != nil {
			return nil, fmt.Errorf("keypack: trusted key for %s: %w", peer, err)
		}
		trusted[peer] = fingerprint
	}
	return trusted, nil
}

// Contents is everything Write puts in a package.
type Contents struct {
	PrivateKey  []byte
	PublicKey   []byte
	Account     AccountInfo
	TrustedKeys map[string]keys.Fingerprint
}

type entry struct {
	name string
	data []byte
}

// Write writes a key package to w.
func Write(w io.Writer, contents Contents) error {
	if len(contents.PrivateKey) == 0 || len(contents.PublicKey) == 0 {
		return fmt.Errorf("keypack: both key blobs are required")
	}

	archive := zip.NewWriter(w)
	entries := []entry{
		{EntryPrivateKey, contents.PrivateKey},
		{EntryPublicKey, contents.PublicKey},
	}

	if contents.Account != (AccountInfo{}) {
		data, err := yaml.Marshal(contents.Account)
		if err != nil {
			return fmt.Errorf("keypack: encoding %s: %w", EntryAccount, err)
		}
		entries = append(entries, entry{EntryAccount, data})
	}

	if len(contents.TrustedKeys) > 0 {
		entries = append(entries, entry{EntryTrusted, encodeTrusted(contents.TrustedKeys)})
	}

	for _, item := range entries {
		writer, err := archive.CreateHeader(&zip.FileHeader{Name: item.name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("keypack: creating %s: %w", item.name, err)
		}
		if _, err := writer.Write(item.data); err != nil {
			return fmt.Errorf("keypack: writing %s: %w", item.name, err)
		}
	}
	if err := archive.Close(); err != nil {
		return fmt.Errorf("keypack: finishing archive: %w", err)
	}
	return nil
}

func encodeTrusted(trusted map[string]keys.Fingerprint) []byte {
	peers := make([]string, 0, len(trusted))
	for peer := range trusted {
		peers = append(peers, peer)
	}
	sort.Strings(peers)

	var buffer bytes.Buffer
	buffer.WriteString("// Peers whose keys were trusted on the exporting device.\n{\n")
	for i, peer := range peers {
		name, _ := json.Marshal(peer)
		fmt.Fprintf(&buffer, "  %s: %q", name, trusted[peer].String())
		if i < len(peers)-1 {
			buffer.WriteString(",")
		}
		buffer.WriteString("\n")
	}
	buffer.WriteString("}\n")
	return buffer.Bytes()
}
