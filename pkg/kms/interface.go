package kms

import (
	"errors"
)

// KeyType 定义了支持的密钥类型
type KeyType string

const (
	KeyTypeEd25519   KeyType = "Ed25519"   // 中继链 / 平行链账户
	KeyTypeSecp256k1 KeyType = "Secp256k1" // Mythos 等以太坊风格账户
)

// KeyMetadata 包含密钥的元数据，不包含敏感的私钥信息
type KeyMetadata struct {
	KeyID     string  `json:"key_id"`
	Type      KeyType `json:"type"`
	CreatedAt int64   `json:"created_at"`
	Enabled   bool    `json:"enabled"`
}

// KeyManager 签名后端抽象，私钥永远不离开实现方
// 可以替换为 HSM 或云端 KMS
type KeyManager interface {
	// CreateKey 创建一个新的密钥，并返回其 ID。
	CreateKey(kType KeyType) (string, error)

	// ImportKey 由种子导入密钥 (开发环境)
	ImportKey(kType KeyType, seed []byte) (string, error)

	// GetPublicKey 获取指定密钥 ID 的公钥。
	GetPublicKey(keyID string) (any, error)

	// Metadata 获取密钥元数据
	Metadata(keyID string) (KeyMetadata, error)

	// Sign 使用指定的密钥对数据进行签名。
	Sign(keyID string, data []byte) ([]byte, error)

	// Verify 验证签名是否有效。
	Verify(keyID string, data []byte, signature []byte) error

	// Disable 停用密钥，之后的签名请求全部拒绝
	Disable(keyID string) error
}

var (
	ErrKeyNotFound      = errors.New("密钥未找到")
	ErrKeyDisabled      = errors.New("密钥已禁用")
	ErrUnsupportedOp    = errors.New("该密钥类型不支持此操作")
	ErrInvalidSignature = errors.New("签名无效")
)
