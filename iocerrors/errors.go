// Package iocerrors collects the typed error kinds raised across the jail
// lifecycle, storage, network, release, and backup engines.
//
// Every operation that can fail in a way a caller needs to branch on raises
// an *Error carrying one of the Kind constants below, so callers can use
// errors.As / errors.Is instead of string-matching messages.
package iocerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error families from the specification's error
// handling design. Kinds are grouped by the component that raises them.
type Kind string

const (
	// Jail lifecycle
	KindMissingFeature          Kind = "missing_feature"
	KindJailDoesNotExist        Kind = "jail_does_not_exist"
	KindJailAlreadyExists       Kind = "jail_already_exists"
	KindJailNotRunning          Kind = "jail_not_running"
	KindJailAlreadyRunning      Kind = "jail_already_running"
	KindJailNotFound            Kind = "jail_not_found"
	KindJailUnknownIdentifier   Kind = "jail_unknown_identifier"
	KindJailIsTemplate          Kind = "jail_is_template"
	KindJailNotTemplate         Kind = "jail_not_template"
	KindJailLaunchFailed        Kind = "jail_launch_failed"
	KindJailDestructionFailed   Kind = "jail_destruction_failed"
	KindJailCommandFailed       Kind = "jail_command_failed"
	KindJailExecutionAborted    Kind = "jail_execution_aborted"
	KindJailStateUpdateFailed   Kind = "jail_state_update_failed"
	KindInvalidJailName         Kind = "invalid_jail_name"
	KindJailConfigZFSNotAllowed Kind = "jail_config_zfs_is_not_allowed"

	// Fstab
	KindVirtualFstabLineHasNoRealIndex Kind = "virtual_fstab_line_has_no_real_index"
	KindFstabDestinationExists         Kind = "fstab_destination_exists"

	// Security
	KindInsecureJailPath                  Kind = "insecure_jail_path"
	KindSecurityViolationConfigJailEscape Kind = "security_violation_config_jail_escape"
	KindIllegalArchiveContent             Kind = "illegal_archive_content"

	// Config
	KindInvalidJailConfigValue   Kind = "invalid_jail_config_value"
	KindInvalidJailConfigAddress Kind = "invalid_jail_config_address"
	KindInvalidMacAddress        Kind = "invalid_mac_address"
	KindResourceLimitUnknown     Kind = "resource_limit_unknown"
	KindResourceLimitAction      Kind = "resource_limit_action_failed"
	KindUnknownConfigProperty    Kind = "unknown_config_property"

	// Backup
	KindBackupInProgress          Kind = "backup_in_progress"
	KindBackupSourceDoesNotExist  Kind = "backup_source_does_not_exist"
	KindBackupUnknownFormat       Kind = "backup_unknown_format"
	KindExportDestinationExists   Kind = "export_destination_exists"

	// Activation / host
	KindIocageNotActivated  Kind = "iocage_not_activated"
	KindActivationFailed    Kind = "activation_failed"
	KindCommandFailure      Kind = "command_failure"
	KindDistributionUnknown Kind = "distribution_unknown"
	KindHostReleaseUnknown  Kind = "host_release_unknown"
	KindHostUserlandUnknown Kind = "host_userland_version_unknown"
	KindDownloadFailed      Kind = "download_failed"

	// ZFS / datasets
	KindDatasetExists       Kind = "dataset_exists"
	KindDatasetNotMounted   Kind = "dataset_not_mounted"
	KindDatasetNotAvailable Kind = "dataset_not_available"
	KindDatasetNotJailed    Kind = "dataset_not_jailed"
	KindZFSPoolInvalid      Kind = "zfs_pool_invalid"
	KindZFSPoolUnavailable  Kind = "zfs_pool_unavailable"
	KindZFSException        Kind = "zfs_exception"

	KindSnapshotCreation        Kind = "snapshot_creation"
	KindSnapshotDeletion        Kind = "snapshot_deletion"
	KindSnapshotRollback        Kind = "snapshot_rollback"
	KindSnapshotNotFound        Kind = "snapshot_not_found"
	KindSnapshotInvalidIdentity Kind = "snapshot_invalid_identifier"

	// Network
	KindVnetBridgeMissing       Kind = "vnet_bridge_missing"
	KindVnetBridgeDoesNotExist  Kind = "vnet_bridge_does_not_exist"
	KindFirewallDisabled        Kind = "firewall_disabled"
	KindFirewallCommandFailure  Kind = "firewall_command_failure"
	KindInvalidIPAddress        Kind = "invalid_ip_address"

	// Release
	KindReleaseListUnavailable        Kind = "release_list_unavailable"
	KindReleaseAssetHashesUnavailable Kind = "release_asset_hashes_unavailable"
	KindUpdateFailure                 Kind = "update_failure"
	KindInvalidReleaseAssetSignature  Kind = "invalid_release_asset_signature"
	KindNonReleaseUpdateFetch         Kind = "non_release_update_fetch"
	KindReleaseNotFetched             Kind = "release_not_fetched"
	KindUnsupportedRelease            Kind = "unsupported_release"
	KindDefaultReleaseNotFound        Kind = "default_release_not_found"

	// Devfs
	KindDevfsRuleUnparsable   Kind = "devfs_rule_unparsable"
	KindDevfsRuleNotFound     Kind = "devfs_rule_not_found"
	KindDevfsRuleExhausted    Kind = "devfs_rule_exhausted"

	// Package / provisioning / source
	KindPkgNotFound               Kind = "pkg_not_found"
	KindUndefinedProvisionerSrc   Kind = "undefined_provisioner_source"
	KindUndefinedProvisionerKind  Kind = "undefined_provisioner_method"
	KindInvalidSourceName         Kind = "invalid_source_name"
	KindSourceNotFound            Kind = "source_not_found"
)

// Error is the concrete type every library operation returns on failure.
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		if e.Subject == "" {
			return string(e.Kind)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Subject)
	}
	if e.Subject == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Subject, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, iocerrors.New(KindX, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind with a subject (usually a jail
// id, property name, or path) and no wrapped cause.
func New(kind Kind, subject string) *Error {
	return &Error{Kind: kind, Subject: subject}
}

// Wrap constructs an *Error wrapping an underlying cause.
func Wrap(kind Kind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// Of reports whether err (or any error it wraps) is an *Error of kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
