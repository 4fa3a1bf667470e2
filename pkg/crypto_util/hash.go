package crypto_util

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
	"lukechampine.com/blake3"
)

// CalculateBlake3 计算输入的 Blake3 哈希值。
// 用于生成手续费复用标识，不上链。
func CalculateBlake3(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Blake2b256 Substrate 交易哈希 / 长签名载荷使用的哈希
func Blake2b256(data []byte) []byte {
	hash := blake2b.Sum256(data)
	return hash[:]
}

// ExtrinsicHash 返回 0x 前缀的 blake2b-256 十六进制哈希
func ExtrinsicHash(extrinsic []byte) string {
	return "0x" + hex.EncodeToString(Blake2b256(extrinsic))
}
