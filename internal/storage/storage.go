package storage

import (
	"context"
	"time"

	"momo-wallet/internal/domain"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Options conveys the archive destination.
type Options struct {
	Bucket    string
	KeyPrefix string
}

// Service archives settlement receipts in remote object storage.
type Service interface {
	ArchiveReceipt(ctx context.Context, tx *domain.Transaction) (string, error)
	ListReceipts(ctx context.Context, userID string) ([]ObjectInfo, error)
}
