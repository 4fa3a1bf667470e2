package crypto_util

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ------------------------------------------------------------------------------------------------
// Ed25519
// 中继链 / 平行链账户使用
// ------------------------------------------------------------------------------------------------

// GenerateEd25519KeyPair 生成新的 Ed25519 密钥对。
func GenerateEd25519KeyPair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, pub, err
}

// Ed25519FromSeed 由 32 字节种子恢复密钥对
func Ed25519FromSeed(seed []byte) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("ed25519 种子长度错误: %d", len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv, priv.Public().(ed25519.PublicKey), nil
}

func Ed25519Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

func Ed25519Verify(pub ed25519.PublicKey, message, signature []byte) bool {
	return ed25519.Verify(pub, message, signature)
}

// ------------------------------------------------------------------------------------------------
// Secp256k1 (以太坊风格)
// Mythos 这类 AccountId20 链使用，消息先做 Keccak256
// ------------------------------------------------------------------------------------------------

func GenerateSecp256k1KeyPair() (*ecdsa.PrivateKey, *ecdsa.PublicKey, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	return priv, &priv.PublicKey, nil
}

func Secp256k1FromSeed(seed []byte) (*ecdsa.PrivateKey, *ecdsa.PublicKey, error) {
	priv, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, nil, fmt.Errorf("secp256k1 私钥无效: %w", err)
	}
	return priv, &priv.PublicKey, nil
}

// Secp256k1Sign 返回 65 字节 [R || S || V] 签名
func Secp256k1Sign(priv *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(message), priv)
}

func Secp256k1Verify(pub *ecdsa.PublicKey, message, signature []byte) bool {
	if len(signature) < 64 {
		return false
	}
	return crypto.VerifySignature(crypto.FromECDSAPub(pub), crypto.Keccak256(message), signature[:64])
}

// Secp256k1Address 20 字节 AccountId20: keccak256(pub)[12:]
func Secp256k1Address(pub *ecdsa.PublicKey) []byte {
	return crypto.PubkeyToAddress(*pub).Bytes()
}
