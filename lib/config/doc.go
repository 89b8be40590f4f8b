// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads deskline client configuration.
//
// Configuration comes from exactly one file, named by the
// DESKLINE_CONFIG environment variable ([Load]) or a --config flag
// ([LoadFile]). There is no discovery and no environment-variable
// override of individual values. Files ending in .yaml or .yml are
// parsed as YAML; .json and .jsonc as JSON with comments and trailing
// commas allowed.
//
// The file may carry development and production sections whose
// non-zero values override the base values when [Config].Environment
// matches. Durations are written as Go duration strings ("1s", "750ms").
//
// Commands that run without a file start from [Default], which holds
// the reconnect and send timing the messaging layer is tested against.
package config
