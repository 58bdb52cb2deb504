package blob

import (
	"context"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	t.Setenv("LABCORE_BLOB_DRIVER", "memory")
	store, err := Open(ctx)
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}

	t.Setenv("LABCORE_BLOB_DRIVER", "fs")
	t.Setenv("LABCORE_BLOB_FS_ROOT", t.TempDir())
	store, err = Open(ctx)
	if err != nil {
		t.Fatalf("Open fs: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver, got %s", store.Driver())
	}

	t.Setenv("LABCORE_BLOB_DRIVER", "s3")
	t.Setenv("LABCORE_BLOB_S3_BUCKET", "")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("expected s3 driver without bucket to fail")
	}

	t.Setenv("LABCORE_BLOB_DRIVER", "tape")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

func TestAttachmentKeys(t *testing.T) {
	if got := MessageAttachmentKey("r1", "m2", "photo.png"); got != "rooms/r1/m2/photo.png" {
		t.Fatalf("unexpected message key %q", got)
	}
	if got := RuleDocumentKey("rule9", "sds.pdf"); got != "rules/rule9/sds.pdf" {
		t.Fatalf("unexpected rule key %q", got)
	}
	if got := EquipmentDocumentKey("eq3", "manual.pdf"); got != "equipment/eq3/manual.pdf" {
		t.Fatalf("unexpected equipment key %q", got)
	}
}

func TestValidKey(t *testing.T) {
	if err := ValidKey("rooms/r1/m1/a.txt"); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	for _, key := range []string{"", "   ", "/abs", "a/../b"} {
		if err := ValidKey(key); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}
