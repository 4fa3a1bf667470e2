package safe_random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateRandomBytes 密码学安全的随机字节 (盐、nonce)
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("生成随机字节失败: %w", err)
	}
	return b, nil
}

// GenerateRandomHexString n 个随机字节的十六进制，长度为 2n
func GenerateRandomHexString(n int) (string, error) {
	b, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RequestID 生成提交请求 ID，形如 "claim-3f9a..."
// 与手续费复用标识不同: 同样的调用每次提交都得到新的 ID
func RequestID(prefix string) (string, error) {
	s, err := GenerateRandomHexString(12)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return s, nil
	}
	return prefix + "-" + s, nil
}
