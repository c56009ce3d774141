package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// TokenBucket 令牌缓存的“表名”
	TokenBucket = "Tokens"
)

// DB 封装 BoltDB 实例
type DB struct {
	conn *bbolt.DB
}

// NewBoltDB 初始化并打开数据库，父目录不存在时自动创建
func NewBoltDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	// Timeout 选项防止两个进程同时打开同一个数据库导致死锁
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开 BoltDB 失败: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(TokenBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("创建 Bucket 失败: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	return d.conn.Close()
}

// GetToken 读取缓存的令牌，没有记录时返回 (nil, nil)
func (d *DB) GetToken(key string) (*TokenRecord, error) {
	var rec *TokenRecord
	err := d.conn.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(TokenBucket)).Get([]byte(key))
		if v == nil {
			return nil
		}
		rec = &TokenRecord{}
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("读取令牌失败 key=%s: %w", key, err)
	}
	return rec, nil
}

// PutToken 保存或更新令牌
func (d *DB) PutToken(rec *TokenRecord) error {
	rec.UpdatedAt = time.Now()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}

	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(TokenBucket)).Put([]byte(rec.Key), data)
	})
}

// DeleteToken 删除令牌 (远端拒绝该令牌时调用)
func (d *DB) DeleteToken(key string) error {
	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(TokenBucket)).Delete([]byte(key))
	})
}
