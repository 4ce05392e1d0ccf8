package document

import (
	"bytes"
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x42}, 64)...)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "docs.db"), []byte("test-secret"), "https://offers.example")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.Put(ctx, "properties/p1/offers/o1", pngBytes)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.PrivatePath, "properties/p1/offers/o1/"))
	assert.True(t, strings.HasSuffix(stored.PrivatePath, ".png"))
	assert.Equal(t, "image/png", stored.ContentType)
	assert.NotContains(t, stored.Reference, stored.PrivatePath)
	assert.Equal(t, "https://offers.example/api/properties/p1/offers/o1/document", stored.Reference)

	blob, err := s.Get(ctx, stored.PrivatePath)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, blob.Data)
	assert.Equal(t, "image/png", blob.ContentType)
}

func TestBlobIsEncryptedAtRest(t *testing.T) {
	s := newTestStore(t)
	stored, err := s.Put(context.Background(), "properties/p1/offers/o1", pngBytes)
	require.NoError(t, err)

	var raw []byte
	require.NoError(t, s.db.View(func(tx *bolt.Tx) error {
		raw = append(raw, tx.Bucket([]byte(bucketName)).Get([]byte(stored.PrivatePath))...)
		return nil
	}))
	assert.False(t, bytes.Contains(raw, pngBytes[8:40]))
}

func TestPutRejectsUnsupportedContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "p", []byte("%PDF-1.7 not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = s.Put(ctx, "p", nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = s.Put(ctx, "p", make([]byte, MaxSize+1))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "properties/none.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func tokenOf(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestSignedURLRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	signer := NewSigner([]byte("k"), "https://offers.example/").WithClock(func() time.Time { return now })

	link, expires, err := signer.SignedURL("properties/p1/offers/o1/a.png", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(MaxSignedURLTTL), expires)
	assert.True(t, strings.HasPrefix(link, "https://offers.example/documents/content?token="))

	got, err := signer.Verify(tokenOf(t, link))
	require.NoError(t, err)
	assert.Equal(t, "properties/p1/offers/o1/a.png", got)
}

func TestSignedURLExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	signer := NewSigner([]byte("k"), "https://offers.example").WithClock(func() time.Time { return now })

	link, _, err := signer.SignedURL("a.png", 5*time.Minute)
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)
	_, err = signer.Verify(tokenOf(t, link))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	a := NewSigner([]byte("a"), "https://x")
	b := NewSigner([]byte("b"), "https://x")

	link, _, err := a.SignedURL("a.png", time.Minute)
	require.NoError(t, err)
	_, err = b.Verify(tokenOf(t, link))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
