// Package lock 保证同一时刻只有一个同步任务在修改远端规则
package lock

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrLocked 已有同步任务持有锁
var ErrLocked = errors.New("另一个同步任务正在运行")

// Lock 进程间互斥锁，基于锁文件
type Lock struct {
	path string
	file *os.File
}

// Acquire 非阻塞地获取锁，已被占用时返回 ErrLocked；path 为空时返回空锁
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return &Lock{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := acquire(path)
	if err != nil {
		return nil, err
	}
	return &Lock{path: path, file: f}, nil
}

// Path 锁文件路径
func (l *Lock) Path() string {
	return l.path
}

// Release 释放锁，可重复调用
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := release(l.path, l.file)
	l.file = nil
	return err
}
