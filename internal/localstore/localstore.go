// Package localstore 模拟浏览器的本地存储：按设备隔离、只存字符串。
package localstore

import (
	"context"
	"sync"
)

// 本地存储使用的键
const (
	KeySessionID = "chatSessionId"
	KeyAdminAuth = "adminAuth"

	// 旧版按用户ID识别的聊天窗口使用的键
	KeyLegacyUserID   = "chatUserId"
	KeyLegacyUserName = "chatUserName"

	AdminAuthValue = "true"
)

// Storage 单个设备的键值存储
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Provider 按设备ID返回存储
type Provider interface {
	ForDevice(deviceID string) Storage
}

// Memory 进程内实现
type Memory struct {
	mu      sync.RWMutex
	devices map[string]map[string]string
}

// NewMemory 创建进程内本地存储
func NewMemory() *Memory {
	return &Memory{devices: make(map[string]map[string]string)}
}

// ForDevice 返回设备存储
func (m *Memory) ForDevice(deviceID string) Storage {
	return &memoryDevice{parent: m, deviceID: deviceID}
}

// Clear 清空设备的所有数据（相当于用户清除浏览器数据）
func (m *Memory) Clear(deviceID string) {
	m.mu.Lock()
	delete(m.devices, deviceID)
	m.mu.Unlock()
}

type memoryDevice struct {
	parent   *Memory
	deviceID string
}

func (d *memoryDevice) Get(ctx context.Context, key string) (string, bool, error) {
	d.parent.mu.RLock()
	defer d.parent.mu.RUnlock()

	value, ok := d.parent.devices[d.deviceID][key]
	return value, ok, nil
}

func (d *memoryDevice) Set(ctx context.Context, key, value string) error {
	d.parent.mu.Lock()
	defer d.parent.mu.Unlock()

	values := d.parent.devices[d.deviceID]
	if values == nil {
		values = make(map[string]string)
		d.parent.devices[d.deviceID] = values
	}
	values[key] = value
	return nil
}

func (d *memoryDevice) Remove(ctx context.Context, key string) error {
	d.parent.mu.Lock()
	defer d.parent.mu.Unlock()

	delete(d.parent.devices[d.deviceID], key)
	return nil
}

// Map 单设备的简单实现，测试使用
type Map map[string]string

func (m Map) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m Map) Set(ctx context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m Map) Remove(ctx context.Context, key string) error {
	delete(m, key)
	return nil
}
