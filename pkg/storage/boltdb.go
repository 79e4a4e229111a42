package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/swiftfleet/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketStorageNodes = []byte("storage_nodes")
	bucketProxyNodes   = []byte("proxy_nodes")
	bucketBacklog      = []byte("maintenance_backlog")
)

// openTimeout bounds the wait for another process holding the database
const openTimeout = 2 * time.Second

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database file at dbPath
func NewBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketStorageNodes,
			bucketProxyNodes,
			bucketBacklog,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Storage node operations
func (s *BoltStore) CreateStorageNode(node *types.StorageNode) error {
	return put(s.db, bucketStorageNodes, node.IP, node)
}

func (s *BoltStore) GetStorageNode(ip string) (*types.StorageNode, error) {
	var node types.StorageNode
	if err := get(s.db, bucketStorageNodes, ip, &node); err != nil {
		return nil, fmt.Errorf("storage node %s: %w", ip, err)
	}
	return &node, nil
}

func (s *BoltStore) ListStorageNodes() ([]*types.StorageNode, error) {
	var nodes []*types.StorageNode
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStorageNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.StorageNode
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateStorageNode(node *types.StorageNode) error {
	return s.CreateStorageNode(node) // Same as create (upsert)
}

// Proxy node operations
func (s *BoltStore) CreateProxyNode(node *types.ProxyNode) error {
	return put(s.db, bucketProxyNodes, node.IP, node)
}

func (s *BoltStore) GetProxyNode(ip string) (*types.ProxyNode, error) {
	var node types.ProxyNode
	if err := get(s.db, bucketProxyNodes, ip, &node); err != nil {
		return nil, fmt.Errorf("proxy node %s: %w", ip, err)
	}
	return &node, nil
}

func (s *BoltStore) ListProxyNodes() ([]*types.ProxyNode, error) {
	var nodes []*types.ProxyNode
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProxyNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.ProxyNode
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

// Maintenance backlog operations
func (s *BoltStore) PutTask(task *types.MaintenanceTask) error {
	return put(s.db, bucketBacklog, task.ID, task)
}

func (s *BoltStore) GetTask(id string) (*types.MaintenanceTask, error) {
	var task types.MaintenanceTask
	if err := get(s.db, bucketBacklog, id, &task); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.MaintenanceTask, error) {
	var tasks []*types.MaintenanceTask
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBacklog)
		return b.ForEach(func(k, v []byte) error {
			var task types.MaintenanceTask
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func put(db *bolt.DB, bucket []byte, key string, value interface{}) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func get(db *bolt.DB, bucket []byte, key string, value interface{}) error {
	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, value)
	})
}
