package workspace

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Storage 字节存储，路径均为相对路径
type Storage interface {
	Write(p string, data []byte) error
	Read(p string) ([]byte, error)
	Rename(oldPath, newPath string) error
	Copy(oldPath, newPath string) error
	Mkdir(p string) error
	Size(p string) (int64, error)
}

// FilesystemStorage 基于 afero 的存储实现
type FilesystemStorage struct {
	fs afero.Fs
}

// NewFilesystemStorage 以 basePath 为根目录的磁盘存储
func NewFilesystemStorage(basePath string) (*FilesystemStorage, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("创建工作区根目录失败: %w", err)
	}
	return &FilesystemStorage{fs: afero.NewBasePathFs(osFs, basePath)}, nil
}

// NewMemoryStorage 内存存储，用于测试与本地演示
func NewMemoryStorage() *FilesystemStorage {
	return &FilesystemStorage{fs: afero.NewMemMapFs()}
}

// Fs 返回底层文件系统
func (s *FilesystemStorage) Fs() afero.Fs { return s.fs }

// Write 写入文件，自动创建父目录
func (s *FilesystemStorage) Write(p string, data []byte) error {
	p = clean(p)
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	return afero.WriteFile(s.fs, p, data, 0o644)
}

// Read 读取文件
func (s *FilesystemStorage) Read(p string) ([]byte, error) {
	return afero.ReadFile(s.fs, clean(p))
}

// Rename 重命名/移动，目标目录不存在时创建
func (s *FilesystemStorage) Rename(oldPath, newPath string) error {
	oldPath, newPath = clean(oldPath), clean(newPath)
	if oldPath == newPath {
		return nil
	}
	if err := s.fs.MkdirAll(path.Dir(newPath), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	return s.fs.Rename(oldPath, newPath)
}

// Copy 复制单个文件
func (s *FilesystemStorage) Copy(oldPath, newPath string) error {
	oldPath, newPath = clean(oldPath), clean(newPath)
	src, err := s.fs.Open(oldPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := s.fs.MkdirAll(path.Dir(newPath), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	dst, err := s.fs.OpenFile(newPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// Mkdir 创建目录
func (s *FilesystemStorage) Mkdir(p string) error {
	return s.fs.MkdirAll(clean(p), 0o755)
}

// Size 返回文件大小
func (s *FilesystemStorage) Size(p string) (int64, error) {
	info, err := s.fs.Stat(clean(p))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
