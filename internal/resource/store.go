package resource

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/chacha20poly1305"
)

const metaPrefix = "resource/"

var (
	ErrNotFound = errors.New("resource: not found")
	ErrExists   = errors.New("resource: already exists")
)

// encryptedSecret is the at-rest shape of a Resource's Credentials, sealed
// with XChaCha20-Poly1305 keyed by SHA-256(masterKey).
type encryptedSecret struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type cipherAead interface {
	NonceSize() int
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
}

// record is the plaintext-persisted half of a Resource: everything except
// Credentials, which is sealed separately in its own key.
type record struct {
	ID             string
	Pattern        URLPattern
	MatchAll       bool
	HostRedirect   *HostRedirect
	CredentialMode CredentialMode
	OAuth2Endpoint string
	TokenParamName string
	RateCap        RateCap
}

// Store persists Resources in a badger key-value store, with Credentials
// sealed at rest. Grounded on the connectors.Service pattern of encrypting
// secrets with a master-key-derived XChaCha20-Poly1305 AEAD over badger.
type Store struct {
	db   *badger.DB
	aead cipherAead
}

// NewStore opens (creating if absent) the badger database under dataDir.
func NewStore(dataDir string, masterKey string) (*Store, error) {
	if strings.TrimSpace(masterKey) == "" {
		return nil, errors.New("resource: master key is required")
	}

	opts := badger.DefaultOptions(path.Join(dataDir, "resources"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("resource: open badger: %w", err)
	}

	derived := sha256.Sum256([]byte(masterKey))
	aead, err := chacha20poly1305.NewX(derived[:])
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resource: init xchacha20poly1305: %w", err)
	}

	return &Store{db: db, aead: aead}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or overwrites a Resource. Unlike connectors.Service, updates
// are allowed — resources are reloaded wholesale on configuration reload
// rather than individually versioned.
func (s *Store) Put(r *Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}

	rec := record{
		ID:             r.ID,
		Pattern:        r.Pattern,
		MatchAll:       r.MatchAll,
		HostRedirect:   r.HostRedirect,
		CredentialMode: r.Credentials.Mode,
		OAuth2Endpoint: r.OAuth2Endpoint,
		TokenParamName: r.TokenParamName,
		RateCap:        r.RateCap,
	}
	recBytes, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	secretPayload, err := json.Marshal(r.Credentials)
	if err != nil {
		return err
	}
	blob, err := s.encrypt(r.ID, secretPayload)
	if err != nil {
		return err
	}
	blobBytes, err := json.Marshal(blob)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(metaKey(r.ID), recBytes); err != nil {
			return err
		}
		return txn.Set(secretKey(r.ID), blobBytes)
	})
}

// Get loads one Resource by ID, decrypting its credentials.
func (s *Store) Get(id string) (*Resource, error) {
	var rec record
	var blob encryptedSecret

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
			return err
		}

		item, err = txn.Get(secretKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &blob) })
	})
	if err != nil {
		return nil, err
	}

	return s.hydrate(rec, blob)
}

// List loads every persisted Resource, sorted by ID.
func (s *Store) List() ([]*Resource, error) {
	type pair struct {
		rec  record
		blob encryptedSecret
	}
	pairs := make(map[string]*pair)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			switch {
			case strings.HasSuffix(key, "/meta"):
				id := strings.TrimSuffix(strings.TrimPrefix(key, metaPrefix), "/meta")
				p := pairs[id]
				if p == nil {
					p = &pair{}
					pairs[id] = p
				}
				if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &p.rec) }); err != nil {
					return err
				}
			case strings.HasSuffix(key, "/secret"):
				id := strings.TrimSuffix(strings.TrimPrefix(key, metaPrefix), "/secret")
				p := pairs[id]
				if p == nil {
					p = &pair{}
					pairs[id] = p
				}
				if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &p.blob) }); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(pairs))
	for id := range pairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Resource, 0, len(ids))
	for _, id := range ids {
		p := pairs[id]
		res, err := s.hydrate(p.rec, p.blob)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Delete removes a Resource and its sealed credentials.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		if err := txn.Delete(metaKey(id)); err != nil {
			return err
		}
		return txn.Delete(secretKey(id))
	})
}

func (s *Store) hydrate(rec record, blob encryptedSecret) (*Resource, error) {
	payload, err := s.decrypt(rec.ID, blob)
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return nil, fmt.Errorf("resource %s: decode credentials: %w", rec.ID, err)
	}

	return &Resource{
		ID:             rec.ID,
		Pattern:        rec.Pattern,
		MatchAll:       rec.MatchAll,
		HostRedirect:   rec.HostRedirect,
		Credentials:    creds,
		OAuth2Endpoint: rec.OAuth2Endpoint,
		TokenParamName: rec.TokenParamName,
		RateCap:        rec.RateCap,
	}, nil
}

func (s *Store) encrypt(id string, plaintext []byte) (encryptedSecret, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return encryptedSecret{}, err
	}
	ciphertext := s.aead.Seal(nil, nonce, plaintext, []byte(id))
	return encryptedSecret{
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	}, nil
}

func (s *Store) decrypt(id string, blob encryptedSecret) ([]byte, error) {
	nonce, err := base64.RawStdEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, err
	}
	return s.aead.Open(nil, nonce, ciphertext, []byte(id))
}

func metaKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s/meta", metaPrefix, id))
}

func secretKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s/secret", metaPrefix, id))
}
