// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the
// provisioning tools.
//
// Configuration is loaded from a single file named by either the
// PROVISION_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). Commands that run without either use [Default].
// There is no search path and no per-value environment override.
//
// The file may carry environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production without an explicit section
// forces the https gateway scheme.
//
// Path values are expanded after loading: ${HOME}, ${PROVISION_STATE}
// (the resolved paths.state) and ${VAR:-default} patterns.
//
// This package depends on no other provisioning packages.
package config
