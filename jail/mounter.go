package jail

import (
	"context"

	"github.com/bsdci/libioc/fstab"
)

// FstabMounter implements fstab.Mounter against a running jail via
// mount(8)/umount(8), injected into a *fstab.Fstab so that package never
// needs a process-exec dependency of its own (§4.3).
type FstabMounter struct {
	Runner Runner
}

func (m FstabMounter) Mount(mnt fstab.Mount) error {
	args := []string{"-t", mnt.FSType}
	if mnt.Options != "" {
		args = append(args, "-o", mnt.Options)
	}
	args = append(args, mnt.Source, mnt.Destination)
	_, err := m.Runner.Run(context.Background(), "mount", args...)
	return err
}

func (m FstabMounter) Unmount(destination string) error {
	_, err := m.Runner.Run(context.Background(), "umount", "-f", destination)
	return err
}
