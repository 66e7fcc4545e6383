package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"momo-wallet/internal/domain"
)

// S3Service writes settlement receipts to Amazon S3 (or compatible APIs).
type S3Service struct {
	client   *s3.Client
	uploader *manager.Uploader
	opts     Options
}

func NewS3Service(client *s3.Client, opts Options) *S3Service {
	return &S3Service{
		client:   client,
		uploader: manager.NewUploader(client),
		opts:     opts,
	}
}

// receipt is the archived JSON document for one completed transaction.
type receipt struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	Provider      string `json:"provider"`
	Phone         string `json:"phone"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	CreatedAt     string `json:"created_at"`
	SettledAt     string `json:"settled_at,omitempty"`
}

func (s *S3Service) ArchiveReceipt(ctx context.Context, tx *domain.Transaction) (string, error) {
	if s.opts.Bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}

	doc := receipt{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Kind:          string(tx.Kind),
		Amount:        tx.Amount.StringFixed(2),
		Provider:      tx.Provider,
		Phone:         tx.Phone,
		Status:        string(tx.Status),
		Reference:     tx.Reference,
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.SettledAt != nil {
		doc.SettledAt = tx.SettledAt.Format(time.RFC3339)
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}

	key := s.receiptKey(tx.UserID, tx.ID)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("upload receipt: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", s.opts.Bucket, key), nil
}

func (s *S3Service) ListReceipts(ctx context.Context, userID string) ([]ObjectInfo, error) {
	if s.opts.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	var objects []ObjectInfo
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opts.Bucket),
		Prefix: aws.String(s.userPrefix(userID)),
	}

	for {
		output, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list receipts: %w", err)
		}

		for _, obj := range output.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified,
			})
		}

		if !aws.ToBool(output.IsTruncated) || output.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}

	return objects, nil
}

func (s *S3Service) receiptKey(userID, txID string) string {
	return fmt.Sprintf("%s%s.json", s.userPrefix(userID), txID)
}

func (s *S3Service) userPrefix(userID string) string {
	prefix := strings.Trim(s.opts.KeyPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/", userID)
	}
	return fmt.Sprintf("%s/%s/", prefix, userID)
}

var _ Service = (*S3Service)(nil)
