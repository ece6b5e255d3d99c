//go:build linux

package wlclient

import (
	"fmt"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// fdQueue buffers file descriptors received via SCM_RIGHTS until the event
// that references them is decoded. All receiving happens on the single
// dispatch goroutine; the mutex only covers the rare case of inspection from
// another goroutine.
type fdQueue struct {
	mu  sync.Mutex
	fds []int
}

func (q *fdQueue) put(fds []int) {
	q.mu.Lock()
	q.fds = append(q.fds, fds...)
	q.mu.Unlock()
}

func (q *fdQueue) take() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fds) == 0 {
		return -1, false
	}
	fd := q.fds[0]
	q.fds = q.fds[1:]
	return fd, true
}

var controlBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, unix.CmsgSpace(4*4)) // room for 4 fds
		return &b
	},
}

// recvmsg reads message bytes plus any out-of-band file descriptors, which
// are parked in the display's fd queue.
func (d *Display) recvmsg(buf []byte) (int, error) {
	oobp := controlBufferPool.Get().(*[]byte)
	defer controlBufferPool.Put(oobp)
	oob := *oobp

	n, oobn, _, _, err := d.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return n, err
	}
	if oobn > 0 {
		scms, err := syscall.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return n, fmt.Errorf("wlclient: parse control message: %w", err)
		}
		for i := range scms {
			if scms[i].Header.Type != syscall.SCM_RIGHTS {
				continue
			}
			fds, err := syscall.ParseUnixRights(&scms[i])
			if err != nil {
				return n, fmt.Errorf("wlclient: parse unix rights: %w", err)
			}
			d.fds.put(fds)
		}
	}
	return n, nil
}

// sendmsg writes a request, attaching fds via SCM_RIGHTS when present.
func (d *Display) sendmsg(buf []byte, fds []int) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if len(fds) == 0 {
		_, err := d.conn.Write(buf)
		return err
	}
	oob := syscall.UnixRights(fds...)
	_, _, err := d.conn.WriteMsgUnix(buf, oob, nil)
	return err
}

// CreateAnonymousFile creates an unlinked, size-set file suitable for a
// wl_shm pool. memfd_create is preferred; /dev/shm tmpfiles are the fallback
// for pre-3.17 kernels. No grow/shrink seals are applied: pools are resized
// on surface reconfiguration.
func CreateAnonymousFile(size int64) (int, error) {
	fd, err := unix.MemfdCreate("swsurface-shm", unix.MFD_CLOEXEC)
	if err == nil {
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			return -1, err
		}
		return fd, nil
	}

	fd, err = unix.Open("/dev/shm", unix.O_TMPFILE|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err == nil {
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			return -1, err
		}
		return fd, nil
	}

	name := fmt.Sprintf("/dev/shm/swsurface-%d", unix.Getpid())
	fd, err = unix.Open(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
	if err != nil {
		return -1, err
	}
	unix.Unlink(name)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// MapMemory maps fd read-write shared.
func MapMemory(fd, size int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// UnmapMemory releases a mapping obtained from MapMemory.
func UnmapMemory(data []byte) error {
	return unix.Munmap(data)
}
