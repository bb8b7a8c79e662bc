// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and the markdown issue catalog
// shown by `scriptbox issues`.
//
// Errors carry the failed operation, the resource involved and remediation
// hints; an error linked to a catalog entry points the user at the longer
// explanation rendered with glamour.
package issue
