//go:build linux || darwin || freebsd

package scratch

import "golang.org/x/sys/unix"

// FreeBytes reports the bytes available to an unprivileged user on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
