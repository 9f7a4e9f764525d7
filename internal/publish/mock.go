package publish

import (
	"context"
	"os"
	"sync"
)

// MockClient is a test double for Client.
type MockClient struct {
	UploadErr error

	mu              sync.Mutex
	UploadedObjects map[string][]byte // bucket/key → data
}

// UploadBytes records data under bucket/key.
func (m *MockClient) UploadBytes(_ context.Context, bucket, key string, data []byte) error {
	if m.UploadErr != nil {
		return m.UploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UploadedObjects == nil {
		m.UploadedObjects = make(map[string][]byte)
	}
	m.UploadedObjects[bucket+"/"+key] = append([]byte(nil), data...)
	return nil
}

// UploadFile reads localPath and records its content under bucket/key.
func (m *MockClient) UploadFile(ctx context.Context, bucket, key, localPath string) error {
	if m.UploadErr != nil {
		return m.UploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return m.UploadBytes(ctx, bucket, key, data)
}
