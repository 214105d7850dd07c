package mmap

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"unsafe"
)

// File is a fixed-size memory-mapped file. The mapping is shared, so
// writes through Bytes() reach the page cache directly; Force flushes
// them to disk.
type File struct {
	file *os.File
	data []byte
}

// Map opens (creating if absent) path and maps exactly size bytes of it.
// A new or short file is extended to size first.
func Map(path string, size int) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d for %s", size, path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mmap: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: stat %s: %w", path, err)
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("mmap: extend %s: %w", path, err)
		}
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: map %s: %w", path, err)
	}
	return &File{file: f, data: data}, nil
}

// Bytes returns the mapped region. The slice stays valid until Close.
func (m *File) Bytes() []byte {
	return m.data
}

// Force flushes dirty pages of the mapping to the backing file.
func (m *File) Force() error {
	_, _, errno := syscall.Syscall(syscall.SYS_MSYNC,
		uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data)),
		uintptr(syscall.MS_SYNC))
	if errno != 0 {
		return fmt.Errorf("mmap: msync: %w", errno)
	}
	return nil
}

// TransferTo copies the current file contents to path. Used to take a
// backup before a reset.
func (m *File) TransferTo(path string) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("mmap: create backup %s: %w", path, err)
	}
	defer dst.Close()
	if _, err := m.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.Copy(dst, m.file); err != nil {
		return fmt.Errorf("mmap: backup copy: %w", err)
	}
	return dst.Sync()
}

// Close unmaps the region and closes the file. Bytes() slices must not
// be used afterwards.
func (m *File) Close() error {
	if m.data == nil {
		return nil
	}
	err := syscall.Munmap(m.data)
	m.data = nil
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
