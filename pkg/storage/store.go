package storage

import (
	"errors"

	"github.com/cuemby/swiftfleet/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for fleet state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Storage nodes are never deleted, only marked removed
	CreateStorageNode(node *types.StorageNode) error
	GetStorageNode(ip string) (*types.StorageNode, error)
	ListStorageNodes() ([]*types.StorageNode, error)
	UpdateStorageNode(node *types.StorageNode) error

	// Proxy nodes
	CreateProxyNode(node *types.ProxyNode) error
	GetProxyNode(ip string) (*types.ProxyNode, error)
	ListProxyNodes() ([]*types.ProxyNode, error)

	// Maintenance backlog
	PutTask(task *types.MaintenanceTask) error
	GetTask(id string) (*types.MaintenanceTask, error)
	ListTasks() ([]*types.MaintenanceTask, error)

	// Utility
	Close() error
}
