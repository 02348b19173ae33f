package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	icrypto "github.com/jmcleod/ironwire/internal/crypto"
	"github.com/jmcleod/ironwire/internal/util"
	"github.com/jmcleod/ironwire/storage"
)

const (
	kdfNamespace = "kdf"
	kdfScheme    = "argon2id"
	kdfSaltLen   = 16
	kdfVer       = 1
)

var verifierPlaintext = []byte("ironwire session store")

// kdfRecord is stored in plaintext: the salt rides in Envelope.Nonce and this
// struct in Envelope.Ciphertext. Check is the verifier sealed under a key
// derived from the master key.
type kdfRecord struct {
	Params util.Argon2idParams `json:"params"`
	Check  []byte              `json:"check"`
}

// deriveMaster loads or creates the KDF record for namespace and returns the
// master key derived from passphrase.
func deriveMaster(ctx context.Context, repo storage.Repository, namespace, passphrase string, params util.Argon2idParams) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	env, err := repo.Get(ctx, kdfNamespace, namespace)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return createMaster(ctx, repo, namespace, passphrase, params)
	case err != nil:
		return nil, fmt.Errorf("reading kdf record: %w", err)
	}

	if env.Scheme != kdfScheme || env.Ver != kdfVer {
		return nil, fmt.Errorf("kdf record %s/%d: %w", env.Scheme, env.Ver, storage.ErrUnsupportedEnvelope)
	}
	var rec kdfRecord
	if err := json.Unmarshal(env.Ciphertext, &rec); err != nil {
		return nil, fmt.Errorf("decoding kdf record: %w", err)
	}
	if err := util.ValidateArgon2idParams(rec.Params); err != nil {
		return nil, fmt.Errorf("kdf record: %w", err)
	}
	master, err := util.DeriveArgon2idKey([]byte(util.Normalize(passphrase)), env.Nonce, rec.Params)
	if err != nil {
		return nil, err
	}
	if err := checkVerifier(master, namespace, rec.Check); err != nil {
		util.WipeBytes(master)
		return nil, err
	}
	return master, nil
}

func createMaster(ctx context.Context, repo storage.Repository, namespace, passphrase string, params util.Argon2idParams) ([]byte, error) {
	if err := util.ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	salt, err := util.RandomBytes(kdfSaltLen)
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	master, err := util.DeriveArgon2idKey([]byte(util.Normalize(passphrase)), salt, params)
	if err != nil {
		return nil, err
	}
	vk, err := icrypto.DeriveVerifierKey(master, namespace)
	if err != nil {
		util.WipeBytes(master)
		return nil, err
	}
	defer util.WipeBytes(vk)
	check, err := util.EncryptAESWithAAD(verifierPlaintext, vk, icrypto.AADKDFVerify(namespace, kdfVer))
	if err != nil {
		util.WipeBytes(master)
		return nil, err
	}
	body, err := json.Marshal(kdfRecord{Params: params, Check: check})
	if err != nil {
		util.WipeBytes(master)
		return nil, err
	}

	env := &storage.Envelope{Ver: kdfVer, Scheme: kdfScheme, Nonce: salt, Ciphertext: body, Version: 1}
	if err := repo.PutCAS(ctx, kdfNamespace, namespace, 0, env); err != nil {
		util.WipeBytes(master)
		if errors.Is(err, storage.ErrCASFailed) {
			// Another process initialized the namespace first.
			return deriveMaster(ctx, repo, namespace, passphrase, params)
		}
		return nil, fmt.Errorf("writing kdf record: %w", err)
	}
	return master, nil
}

func checkVerifier(master []byte, namespace string, check []byte) error {
	vk, err := icrypto.DeriveVerifierKey(master, namespace)
	if err != nil {
		return err
	}
	defer util.WipeBytes(vk)
	if _, err := util.DecryptAESWithAAD(check, vk, icrypto.AADKDFVerify(namespace, kdfVer)); err != nil {
		return ErrWrongPassphrase
	}
	return nil
}
