package storage

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
	apperrors "github.com/spec-kit/support-chat/pkg/util"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	ctx := context.Background()

	data := []byte("fake png bytes")
	ref, err := store.Put(ctx, "ticket-1", "shot.png", data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasSuffix(ref, ".png") {
		t.Errorf("ref = %q, want .png suffix", ref)
	}

	got, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get = %q, want %q", got, data)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, ref); err == nil {
		t.Error("Get after Delete should fail")
	}
	// Deleting again is not an error.
	if err := store.Delete(ctx, ref); err != nil {
		t.Errorf("Delete twice: %v", err)
	}
}

func TestDiskStoreUniqueRefs(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	ctx := context.Background()

	ref1, err := store.Put(ctx, "t1", "same.png", []byte("a"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	ref2, err := store.Put(ctx, "t1", "same.png", []byte("b"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref1 == ref2 {
		t.Errorf("refs collide: %q", ref1)
	}
}

func TestDiskStoreRejectsEscapingRefs(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	for _, ref := range []string{"../outside", "/etc/passwd", "a/../../b"} {
		if _, err := store.Get(context.Background(), ref); err == nil {
			t.Errorf("Get(%q) should be rejected", ref)
		}
	}
}

func TestDiskStoreDropsUnknownExtensions(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	ref, err := store.Put(context.Background(), "t1", "payload.exe", []byte("x"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if strings.Contains(ref, ".exe") {
		t.Errorf("ref = %q, unknown extension should be dropped", ref)
	}
}

func TestSignerRoundTrip(t *testing.T) {
	signer := NewURLSigner("secret", "http://files.test/attachments", time.Hour)

	signed, err := signer.Sign("t1/blob.png")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("signed url unparsable: %v", err)
	}
	token := parsed.Query().Get("token")
	if token == "" {
		t.Fatal("signed url missing token")
	}

	ref, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ref != "t1/blob.png" {
		t.Errorf("ref = %q, want %q", ref, "t1/blob.png")
	}
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	signer := NewURLSigner("secret", "http://files.test/attachments", -time.Hour)
	// Negative TTL falls back to an hour, so build a short-lived signer by
	// hand instead.
	signer.ttl = -time.Minute

	signed, err := signer.Sign("t1/blob.png")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	token := urlToken(t, signed)
	if _, err := signer.Verify(token); err == nil {
		t.Error("expired token verified")
	}
}

func TestSignerRejectsForeignSignature(t *testing.T) {
	signer := NewURLSigner("secret-a", "http://files.test/attachments", time.Hour)
	other := NewURLSigner("secret-b", "http://files.test/attachments", time.Hour)

	signed, err := signer.Sign("t1/blob.png")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := other.Verify(urlToken(t, signed)); err == nil {
		t.Error("token verified with the wrong secret")
	}
}

func urlToken(t *testing.T, signed string) string {
	t.Helper()
	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	return parsed.Query().Get("token")
}

func TestValidateUpload(t *testing.T) {
	if err := ValidateUpload("shot.png", "image/png", 100); err != nil {
		t.Errorf("valid upload rejected: %v", err)
	}
	if err := ValidateUpload("", "image/png", 100); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("blank file name: err = %v", err)
	}
	if err := ValidateUpload("shot.png", "image/png", 0); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("empty blob: err = %v", err)
	}
	if err := ValidateUpload("shot.png", "image/png", domain.MaxAttachmentBytes+1); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("oversized blob: err = %v", err)
	}
	if err := ValidateUpload("doc.pdf", "application/pdf", 100); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("bad mime: err = %v", err)
	}
	if err := ValidateUpload("shot.bin", "image/webp", domain.MaxAttachmentBytes); err != nil {
		t.Errorf("exact limit rejected: %v", err)
	}
}
