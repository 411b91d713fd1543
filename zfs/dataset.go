package zfs

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bsdci/libioc/iocerrors"
)

// DatasetType mirrors zfs(8)'s own "type" property values.
type DatasetType string

const (
	TypeFilesystem DatasetType = "filesystem"
	TypeVolume     DatasetType = "volume"
	TypeSnapshot   DatasetType = "snapshot"
)

// Dataset is a filesystem or volume dataset.
type Dataset struct {
	Name       string
	Type       DatasetType
	Mountpoint string
	Mounted    bool
	Origin     string
	Used       uint64
	Available  uint64
	Properties map[string]string
}

// Snapshot is a point-in-time snapshot, named "<dataset>@<snapname>".
type Snapshot struct {
	Name       string
	Dataset    string
	Snapname   string
	Properties map[string]string
}

func splitSnapshot(full string) (dataset, snapname string, ok bool) {
	idx := strings.Index(full, "@")
	if idx < 0 {
		return "", "", false
	}
	return full[:idx], full[idx+1:], true
}

var listProps = []string{"name", "type", "mountpoint", "mounted", "origin", "used", "available"}

func parseDatasetLine(fields []string) Dataset {
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return "-"
	}
	d := Dataset{
		Name:       get(0),
		Type:       DatasetType(get(1)),
		Mountpoint: get(2),
		Mounted:    get(3) == "yes",
		Origin:     get(4),
	}
	d.Used, _ = strconv.ParseUint(get(5), 10, 64)
	d.Available, _ = strconv.ParseUint(get(6), 10, 64)
	return d
}

// Get returns a single dataset by exact name.
func (c *Client) Get(ctx context.Context, name string) (*Dataset, error) {
	lines, err := c.zfsLines(ctx, append([]string{"list", "-H", "-p", "-o", strings.Join(listProps, ",")}, name)...)
	if err != nil {
		if isDatasetNotFound(err) {
			return nil, iocerrors.Wrap(iocerrors.KindDatasetNotAvailable, name, err)
		}
		return nil, iocerrors.Wrap(iocerrors.KindZFSException, name, err)
	}
	if len(lines) == 0 {
		return nil, iocerrors.New(iocerrors.KindDatasetNotAvailable, name)
	}
	d := parseDatasetLine(lines[0])
	return &d, nil
}

func isDatasetNotFound(err error) bool {
	var ce *CmdError
	if e, ok := err.(*CmdError); ok {
		ce = e
	}
	if ce == nil {
		return false
	}
	return strings.Contains(ce.Stderr, "dataset does not exist") ||
		strings.Contains(ce.Stderr, "does not exist")
}

// List enumerates datasets under root, recursively, optionally filtered by
// type ("filesystem", "volume", "snapshot", or "" for all).
func (c *Client) List(ctx context.Context, root string, typ DatasetType) ([]Dataset, error) {
	args := []string{"list", "-H", "-p", "-r", "-o", strings.Join(listProps, ",")}
	if typ != "" {
		args = append(args, "-t", string(typ))
	}
	args = append(args, root)

	lines, err := c.zfsLines(ctx, args...)
	if err != nil {
		return nil, iocerrors.Wrap(iocerrors.KindZFSException, root, err)
	}
	out := make([]Dataset, 0, len(lines))
	for _, l := range lines {
		out = append(out, parseDatasetLine(l))
	}
	return out, nil
}

// Exists reports whether name names any existing dataset or snapshot.
func (c *Client) Exists(ctx context.Context, name string) bool {
	_, err := c.zfs(ctx, "list", "-H", name)
	return err == nil
}

// Create creates a new filesystem dataset, optionally setting properties.
func (c *Client) Create(ctx context.Context, name string, props map[string]string) error {
	args := []string{"create", "-p"}
	for k, v := range props {
		args = append(args, "-o", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, name)
	if _, err := c.zfs(ctx, args...); err != nil {
		return iocerrors.Wrap(iocerrors.KindZFSException, name, err)
	}
	return nil
}

// Destroy destroys a dataset or snapshot, passing -r if recursive and -f
// if force (matching the "zfs destroy -r" contract of §4.6.7).
func (c *Client) Destroy(ctx context.Context, name string, recursive, force bool) error {
	args := []string{"destroy"}
	if recursive {
		args = append(args, "-r")
	}
	if force {
		args = append(args, "-f")
	}
	args = append(args, name)
	if _, err := c.zfs(ctx, args...); err != nil {
		return iocerrors.Wrap(iocerrors.KindZFSException, name, err)
	}
	return nil
}

// Rename renames a dataset or snapshot.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	if _, err := c.zfs(ctx, "rename", from, to); err != nil {
		return iocerrors.Wrap(iocerrors.KindZFSException, from, err)
	}
	return nil
}

// Clone clones a snapshot into a new dataset, optionally with properties
// and optionally destroying any pre-existing dataset at dest first (used
// by the ZFS-basejail storage backend, §4.4).
func (c *Client) Clone(ctx context.Context, snapshot, dest string, props map[string]string, destroyExisting bool) error {
	if destroyExisting && c.Exists(ctx, dest) {
		if err := c.Destroy(ctx, dest, true, true); err != nil {
			return err
		}
	}
	args := []string{"clone", "-p"}
	for k, v := range props {
		args = append(args, "-o", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, snapshot, dest)
	if _, err := c.zfs(ctx, args...); err != nil {
		return iocerrors.Wrap(iocerrors.KindZFSException, dest, err)
	}
	return nil
}

// Snapshot creates "<dataset>@<snapname>", optionally recursively.
func (c *Client) Snapshot(ctx context.Context, dataset, snapname string, recursive bool) error {
	args := []string{"snapshot"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, dataset+"@"+snapname)
	if _, err := c.zfs(ctx, args...); err != nil {
		return iocerrors.Wrap(iocerrors.KindSnapshotCreation, dataset+"@"+snapname, err)
	}
	return nil
}

// Snapshots lists all snapshots of dataset, in creation order.
func (c *Client) Snapshots(ctx context.Context, dataset string) ([]Snapshot, error) {
	lines, err := c.zfsLines(ctx, "list", "-H", "-p", "-t", "snapshot", "-o", "name", "-s", "creation", "-r", dataset)
	if err != nil {
		return nil, iocerrors.Wrap(iocerrors.KindZFSException, dataset, err)
	}
	out := make([]Snapshot, 0, len(lines))
	for _, l := range lines {
		if len(l) == 0 {
			continue
		}
		full := l[0]
		ds, snap, ok := splitSnapshot(full)
		if !ok || ds != dataset {
			continue
		}
		out = append(out, Snapshot{Name: full, Dataset: ds, Snapname: snap})
	}
	return out, nil
}

// RollbackTo rolls dataset back to the named snapshot, destroying any
// intermediate snapshots (-r) as the release updater's failure path needs
// (§4.7.2 "rolls back the pre-update snapshot").
func (c *Client) RollbackTo(ctx context.Context, snapshot string, destroyIntermediate bool) error {
	args := []string{"rollback"}
	if destroyIntermediate {
		args = append(args, "-r")
	}
	args = append(args, snapshot)
	if _, err := c.zfs(ctx, args...); err != nil {
		return iocerrors.Wrap(iocerrors.KindSnapshotRollback, snapshot, err)
	}
	return nil
}

// GetProperty reads one ZFS property value (used for the org.freebsd.iocage
// user-property config backend, §4.2.3).
func (c *Client) GetProperty(ctx context.Context, name, prop string) (string, error) {
	out, err := c.zfs(ctx, "get", "-H", "-o", "value", prop, name)
	if err != nil {
		return "", iocerrors.Wrap(iocerrors.KindZFSException, name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// SetProperty writes one ZFS user or native property.
func (c *Client) SetProperty(ctx context.Context, name, prop, value string) error {
	if _, err := c.zfs(ctx, "set", fmt.Sprintf("%s=%s", prop, value), name); err != nil {
		return iocerrors.Wrap(iocerrors.KindZFSException, name, err)
	}
	return nil
}

// UserProperties returns all "org.freebsd.iocage:*"-prefixed (or any given
// prefix's) user properties set directly on name, keyed without the prefix.
func (c *Client) UserProperties(ctx context.Context, name, prefix string) (map[string]string, error) {
	lines, err := c.zfsLines(ctx, "get", "-H", "-o", "property,value", "all", name)
	if err != nil {
		return nil, iocerrors.Wrap(iocerrors.KindZFSException, name, err)
	}
	out := map[string]string{}
	for _, l := range lines {
		if len(l) < 2 {
			continue
		}
		if !strings.HasPrefix(l[0], prefix) {
			continue
		}
		key := strings.TrimPrefix(l[0], prefix)
		out[key] = l[1]
	}
	return out, nil
}

// Jail attaches dataset for administration by jid ("zfs jail").
func (c *Client) Jail(ctx context.Context, jid int, dataset string) error {
	if _, err := c.zfs(ctx, "jail", strconv.Itoa(jid), dataset); err != nil {
		return iocerrors.Wrap(iocerrors.KindZFSException, dataset, err)
	}
	return nil
}

// Unjail reverses Jail ("zfs unjail").
func (c *Client) Unjail(ctx context.Context, jid int, dataset string) error {
	if _, err := c.zfs(ctx, "unjail", strconv.Itoa(jid), dataset); err != nil {
		return iocerrors.Wrap(iocerrors.KindZFSException, dataset, err)
	}
	return nil
}

// Send streams dataset (or "@snapshot") to w via zfs send.
func (c *Client) Send(ctx context.Context, snapshot string, w io.Writer, replicate bool) error {
	args := []string{"send"}
	if replicate {
		args = append(args, "-R")
	}
	args = append(args, snapshot)
	if err := c.run.Run(ctx, nil, w, "zfs", args...); err != nil {
		return iocerrors.Wrap(iocerrors.KindZFSException, snapshot, err)
	}
	return nil
}

// Receive reads a zfs send stream from r into dest.
func (c *Client) Receive(ctx context.Context, dest string, r io.Reader, force bool) error {
	args := []string{"receive"}
	if force {
		args = append(args, "-F")
	}
	args = append(args, dest)
	if err := c.run.Run(ctx, r, nil, "zfs", args...); err != nil {
		return iocerrors.Wrap(iocerrors.KindZFSException, dest, err)
	}
	return nil
}
