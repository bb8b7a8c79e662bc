// SPDX-License-Identifier: MPL-2.0

// Package resulttree converts arbitrary runtime values into bounded,
// self-describing result trees.
//
// Dump walks a value with a closed-set visitor (null, string-like, error,
// enumerable, keyed, composite) and threads Quotas explicitly through every
// recursive step. A node beyond the depth quota is always a leaf, enumerables
// are capped without buffering past the cap, and a member that panics or
// fails while being read becomes a "Threw" node instead of aborting the dump.
package resulttree
