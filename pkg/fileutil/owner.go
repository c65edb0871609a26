package fileutil

import "os"

// Owner creates directories and changes ownership. Code that assigns
// container UIDs takes an Owner so it can run unprivileged in tests.
type Owner interface {
	InstallDirectory(mode os.FileMode, uid, gid int, path string) error
	Chown(uid, gid int, path string) error
}

// HostOwner applies ownership with InstallDirectory and Chown.
type HostOwner struct{}

func (HostOwner) InstallDirectory(mode os.FileMode, uid, gid int, path string) error {
	return InstallDirectory(mode, uid, gid, path)
}

func (HostOwner) Chown(uid, gid int, path string) error {
	return Chown(uid, gid, path)
}

// OwnerOr returns o, or HostOwner when o is nil.
func OwnerOr(o Owner) Owner {
	if o == nil {
		return HostOwner{}
	}
	return o
}
