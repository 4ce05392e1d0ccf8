// Package document keeps identity document images encrypted at rest and hands
// out short-lived signed links to read them.
package document

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const bucketName = "documents"

// MaxSize is the largest accepted document image.
const MaxSize = 10 << 20

var (
	// ErrNotFound is returned when no blob exists at the private path.
	ErrNotFound = errors.New("document: not found")
	// ErrUnsupportedType signals the upload is not a JPEG, PNG or WEBP image.
	ErrUnsupportedType = errors.New("document: unsupported content type")
	// ErrTooLarge signals the upload exceeds MaxSize.
	ErrTooLarge = errors.New("document: too large")
	// ErrEmpty signals an empty upload.
	ErrEmpty = errors.New("document: empty upload")
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Stored describes a blob after a successful Put. Reference is the public API
// address of the scope's document; it requires authentication and redirects to
// a signed link, so it never exposes the blob itself.
type Stored struct {
	Reference   string
	PrivatePath string
	ContentType string
	Size        int
	SHA256      string
}

// Blob is a decrypted document.
type Blob struct {
	Data        []byte
	ContentType string
}

type record struct {
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
	Sealed      []byte    `json:"sealed"`
}

// Store is a bolt-backed private bucket. Blobs are sealed with XChaCha20-Poly1305
// under a key derived from the configured secret, and bound to their path.
type Store struct {
	db            *bolt.DB
	aead          cipher.AEAD
	publicBaseURL string
	now           func() time.Time
}

// Open opens (or creates) the store file at dbPath.
func Open(dbPath string, secret []byte, publicBaseURL string) (*Store, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("document: empty encryption secret")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("offerflow document store v1")), key); err != nil {
		return nil, fmt.Errorf("document: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("document: init cipher: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("document: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("document: create bucket: %w", err)
	}

	return &Store{
		db:            db,
		aead:          aead,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		now:           time.Now,
	}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// DetectType returns the content type of an accepted document image.
func DetectType(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}
	ct := http.DetectContentType(data)
	if _, ok := allowedTypes[ct]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	return ct, nil
}

// Put validates, encrypts and stores data under scope (for example
// "properties/{propertyId}/offers/{offerId}").
func (s *Store) Put(ctx context.Context, scope string, data []byte) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	ct, err := DetectType(data)
	if err != nil {
		return Stored{}, err
	}

	id := uuid.NewString()
	privatePath := path.Join(strings.Trim(scope, "/"), id+allowedTypes[ct])
	sum := sha256.Sum256(data)

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(data)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return Stored{}, fmt.Errorf("document: nonce: %w", err)
	}

	rec := record{
		ContentType: ct,
		Size:        len(data),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   s.now().UTC(),
		Sealed:      s.aead.Seal(nonce, nonce, data, []byte(privatePath)),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Stored{}, fmt.Errorf("document: marshal record: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(privatePath), payload)
	})
	if err != nil {
		return Stored{}, fmt.Errorf("document: put %s: %w", privatePath, err)
	}

	return Stored{
		Reference:   s.publicBaseURL + "/api/" + strings.Trim(scope, "/") + "/document",
		PrivatePath: privatePath,
		ContentType: ct,
		Size:        len(data),
		SHA256:      rec.SHA256,
	}, nil
}

// Get decrypts the blob at privatePath.
func (s *Store) Get(ctx context.Context, privatePath string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}

	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(privatePath))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Blob{}, ErrNotFound
		}
		return Blob{}, fmt.Errorf("document: get %s: %w", privatePath, err)
	}

	ns := s.aead.NonceSize()
	if len(rec.Sealed) < ns {
		return Blob{}, fmt.Errorf("document: corrupt record %s", privatePath)
	}
	data, err := s.aead.Open(nil, rec.Sealed[:ns], rec.Sealed[ns:], []byte(privatePath))
	if err != nil {
		return Blob{}, fmt.Errorf("document: decrypt %s: %w", privatePath, err)
	}

	return Blob{Data: data, ContentType: rec.ContentType}, nil
}
