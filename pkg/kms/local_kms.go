package kms

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"staking-core/pkg/crypto_util"
	"staking-core/pkg/safe_random"
)

// keyEntry 是内部存储结构，包含私钥（敏感数据）和元数据
type keyEntry struct {
	Metadata   KeyMetadata
	PrivateKey any // ed25519.PrivateKey or *ecdsa.PrivateKey
	PublicKey  any // ed25519.PublicKey or *ecdsa.PublicKey
}

// LocalKMS 是 KeyManager 接口的本地内存实现。
type LocalKMS struct {
	mu   sync.RWMutex
	keys map[string]*keyEntry
}

func NewLocalKMS() *LocalKMS {
	return &LocalKMS{
		keys: make(map[string]*keyEntry),
	}
}

func (kms *LocalKMS) CreateKey(kType KeyType) (string, error) {
	var (
		priv, pub any
		err       error
	)
	switch kType {
	case KeyTypeEd25519:
		priv, pub, err = crypto_util.GenerateEd25519KeyPair()
	case KeyTypeSecp256k1:
		priv, pub, err = crypto_util.GenerateSecp256k1KeyPair()
	default:
		return "", fmt.Errorf("不支持的密钥类型: %s", kType)
	}
	if err != nil {
		return "", err
	}
	return kms.store(kType, priv, pub)
}

func (kms *LocalKMS) ImportKey(kType KeyType, seed []byte) (string, error) {
	var (
		priv, pub any
		err       error
	)
	switch kType {
	case KeyTypeEd25519:
		priv, pub, err = crypto_util.Ed25519FromSeed(seed)
	case KeyTypeSecp256k1:
		priv, pub, err = crypto_util.Secp256k1FromSeed(seed)
	default:
		return "", fmt.Errorf("不支持的密钥类型: %s", kType)
	}
	if err != nil {
		return "", err
	}
	return kms.store(kType, priv, pub)
}

func (kms *LocalKMS) store(kType KeyType, priv, pub any) (string, error) {
	keyID, err := safe_random.GenerateRandomHexString(16)
	if err != nil {
		return "", fmt.Errorf("生成 KeyID 失败: %w", err)
	}

	kms.mu.Lock()
	defer kms.mu.Unlock()
	kms.keys[keyID] = &keyEntry{
		Metadata: KeyMetadata{
			KeyID:     keyID,
			Type:      kType,
			CreatedAt: time.Now().Unix(),
			Enabled:   true,
		},
		PrivateKey: priv,
		PublicKey:  pub,
	}
	return keyID, nil
}

// entry 调用方需持有读锁
func (kms *LocalKMS) entry(keyID string) (*keyEntry, error) {
	e, exists := kms.keys[keyID]
	if !exists {
		return nil, ErrKeyNotFound
	}
	if !e.Metadata.Enabled {
		return nil, ErrKeyDisabled
	}
	return e, nil
}

func (kms *LocalKMS) GetPublicKey(keyID string) (any, error) {
	kms.mu.RLock()
	defer kms.mu.RUnlock()

	e, err := kms.entry(keyID)
	if err != nil {
		return nil, err
	}
	return e.PublicKey, nil
}

func (kms *LocalKMS) Metadata(keyID string) (KeyMetadata, error) {
	kms.mu.RLock()
	defer kms.mu.RUnlock()

	e, exists := kms.keys[keyID]
	if !exists {
		return KeyMetadata{}, ErrKeyNotFound
	}
	return e.Metadata, nil
}

func (kms *LocalKMS) Sign(keyID string, data []byte) ([]byte, error) {
	kms.mu.RLock()
	defer kms.mu.RUnlock()

	e, err := kms.entry(keyID)
	if err != nil {
		return nil, err
	}

	switch k := e.PrivateKey.(type) {
	case ed25519.PrivateKey:
		return crypto_util.Ed25519Sign(k, data), nil
	case *ecdsa.PrivateKey:
		return crypto_util.Secp256k1Sign(k, data)
	default:
		return nil, ErrUnsupportedOp
	}
}

func (kms *LocalKMS) Verify(keyID string, data []byte, signature []byte) error {
	kms.mu.RLock()
	defer kms.mu.RUnlock()

	e, err := kms.entry(keyID)
	if err != nil {
		return err
	}

	var valid bool
	switch k := e.PublicKey.(type) {
	case ed25519.PublicKey:
		valid = crypto_util.Ed25519Verify(k, data, signature)
	case *ecdsa.PublicKey:
		valid = crypto_util.Secp256k1Verify(k, data, signature)
	default:
		return ErrUnsupportedOp
	}

	if !valid {
		return ErrInvalidSignature
	}
	return nil
}

func (kms *LocalKMS) Disable(keyID string) error {
	kms.mu.Lock()
	defer kms.mu.Unlock()

	e, exists := kms.keys[keyID]
	if !exists {
		return ErrKeyNotFound
	}
	e.Metadata.Enabled = false
	return nil
}
