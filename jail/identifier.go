// SPDX-License-Identifier: BSD-2-Clause

// Package jail implements the lifecycle state machine (component G): start,
// stop, rename, destroy, fork_exec (single-command jails), and exec/passthru,
// built on config, fstab, network, and storage.
package jail

import (
	"strings"

	"github.com/google/uuid"
)

// KernelName is the identifier passed to jail(8)/jexec(8): "<source>-<id>"
// with every '.' replaced by '*', since dots collide with jail(8)'s own
// hierarchical child-jail naming (§4.6.8).
func KernelName(source, id string) string {
	name := id
	if source != "" {
		name = source + "-" + id
	}
	return strings.ReplaceAll(name, ".", "*")
}

// HumanReadableName is the id itself, or the first 8 characters when id is
// UUID-shaped (§4.6.8 "the human-readable name is the id itself, or the
// first 8 chars of a UUID-shaped id").
func HumanReadableName(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id[:8]
	}
	return id
}

// FullName is "<source>/<id>" when more than one source is configured,
// otherwise just id (§3.1, §4.6.8).
func FullName(multipleSources bool, source, id string) string {
	if multipleSources {
		return source + "/" + id
	}
	return id
}
