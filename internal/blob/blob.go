// Package blob is the attachment storage surface: safety data sheets on
// lab rules, induction certificates on equipment, and chat message uploads.
// Records reference attachments by key; the bytes live behind Store.
package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"labcore/internal/blob/core"
	"labcore/internal/infra/blob/fs"
	"labcore/internal/infra/blob/memory"
	"labcore/internal/infra/blob/s3"
)

type (
	// Driver identifies an attachment backend driver.
	Driver = core.Driver
	// PutOptions configures an attachment write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored attachment metadata.
	Info = core.Info
	// Store is the interface all attachment backends implement.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrUnsupported indicates an operation isn't supported by a driver.
var ErrUnsupported = core.ErrUnsupported

// MessageAttachmentKey namespaces a chat message upload under its room.
func MessageAttachmentKey(roomID, messageID, filename string) string {
	return "rooms/" + roomID + "/" + messageID + "/" + filename
}

// RuleDocumentKey namespaces a rule document (SDS sheets, policy PDFs).
func RuleDocumentKey(ruleID, filename string) string {
	return "rules/" + ruleID + "/" + filename
}

// EquipmentDocumentKey namespaces equipment manuals and certificates.
func EquipmentDocumentKey(equipmentID, filename string) string {
	return "equipment/" + equipmentID + "/" + filename
}

// Open selects a Store implementation using environment variables.
//
//	LABCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	LABCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./attachments)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("LABCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		root := os.Getenv("LABCORE_BLOB_FS_ROOT")
		return fs.New(root)
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at the provided path.
func NewFilesystem(root string) (Store, error) { return fs.New(root) }

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memory.New() }

// S3Config re-exports the S3 configuration type.
type S3Config = s3.Config

// NewS3 constructs an S3-backed Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3.New(ctx, cfg) }

// NewMockS3ForTests exposes the in-memory S3 mock for cross-package tests.
func NewMockS3ForTests() Store { return s3.NewMockForTests() }

// ValidKey rejects empty, absolute, and traversing keys before they reach a
// backend.
func ValidKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty attachment key")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("absolute attachment key %q", key)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("attachment key %q contains traversal", key)
	}
	return nil
}
