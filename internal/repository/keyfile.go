package repository

import (
	"context"
	"encoding/json"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// keyFile is the on-disk, unencrypted record stored under KindKey: enough
// to rederive the KDF's key-wrapping key from a password and then decrypt
// the wrapped master key it carries. Every key file in a repository wraps
// the same master key, so any one valid password can unlock the whole
// repository.
type keyFile struct {
	KDF     crypto.Params `json:"kdf"`
	Salt    []byte        `json:"salt"`
	Data    []byte        `json:"data"` // master key, JSON-encoded then encrypted with the KDF key
	Hint    string        `json:"hint,omitempty"`
	Created string        `json:"created,omitempty"`
}

// createKey derives a key-wrapping key from password, encrypts a fresh
// master key with it, and stores the result under a new KindKey file. It
// returns the master key every future Open call needs to recover.
func createKey(ctx context.Context, be backend.Backend, password, hint string) (*crypto.Key, error) {
	master := crypto.NewRandomKey()

	salt := crypto.NewSalt()
	wrapKey, err := crypto.KDF(crypto.DefaultKDFParams, salt, password)
	if err != nil {
		return nil, errors.Wrap(err, "KDF")
	}

	plaintext, err := json.Marshal(master)
	if err != nil {
		return nil, errors.Wrap(err, "marshal master key")
	}
	ciphertext, err := wrapKey.Encrypt(nil, plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt master key")
	}

	kf := keyFile{KDF: crypto.DefaultKDFParams, Salt: salt, Data: ciphertext, Hint: hint}
	body, err := json.Marshal(kf)
	if err != nil {
		return nil, errors.Wrap(err, "marshal key file")
	}
	id := ids.Hash(body)
	if err := be.WriteBytes(ctx, backend.KindKey, id, true, body); err != nil {
		return nil, errors.Wrap(err, "write key file")
	}
	return master, nil
}

// openKey tries every key file in be against password and returns the
// first master key it can recover.
func openKey(ctx context.Context, be backend.Backend, password string) (*crypto.Key, error) {
	listed, err := be.ListWithSize(ctx, backend.KindKey)
	if err != nil {
		return nil, errors.Wrap(err, "list keys")
	}
	if len(listed) == 0 {
		return nil, errors.New("repository contains no key files")
	}

	var lastErr error
	for _, entry := range listed {
		body, err := be.ReadFull(ctx, backend.KindKey, entry.ID)
		if err != nil {
			lastErr = err
			continue
		}
		var kf keyFile
		if err := json.Unmarshal(body, &kf); err != nil {
			lastErr = err
			continue
		}
		wrapKey, err := crypto.KDF(kf.KDF, kf.Salt, password)
		if err != nil {
			lastErr = err
			continue
		}
		plaintext := make([]byte, len(kf.Data))
		n, err := wrapKey.Decrypt(plaintext, kf.Data)
		if err != nil {
			lastErr = err
			continue
		}
		var master crypto.Key
		if err := json.Unmarshal(plaintext[:n], &master); err != nil {
			lastErr = err
			continue
		}
		return &master, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no key file could be opened")
	}
	return nil, errors.Wrap(lastErr, "wrong password or no key file could be opened")
}
