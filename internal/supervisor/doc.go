// SPDX-License-Identifier: MPL-2.0

// Package supervisor starts worker processes and brings them to the point
// where they accept submissions.
//
// One call to Spawn is one attempt: it picks a fresh endpoint and sync file,
// starts the worker inside its own process group, waits for the sync file
// while watching the process, then authenticates and initializes the
// session. Any failure tears the partially started worker down. Retrying is
// left to the caller.
package supervisor
