// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds passphrases and decrypted key records in memory
// that lives outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM with mlock and
// excluded from core dumps with madvise(MADV_DONTDUMP). Close zeroes the
// region before unmapping it. Reading a closed buffer panics, so a
// use-after-close bug surfaces at the first access instead of leaking
// stale plaintext.
//
// Passphrases enter the process through [ReadFromPath] (a file or
// stdin) or [ReadPassphrase] (an interactive terminal prompt) and are
// converted to strings only at the boundary where a library API
// demands one.
package secret
