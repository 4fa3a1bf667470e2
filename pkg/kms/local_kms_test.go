package kms

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"
)

func TestLocalKMS_Ed25519(t *testing.T) {
	kms := NewLocalKMS()

	keyID, err := kms.CreateKey(KeyTypeEd25519)
	if err != nil {
		t.Fatalf("创建 Ed25519 密钥失败: %v", err)
	}

	msg := []byte("staking.withdraw_unbonded")
	sig, err := kms.Sign(keyID, msg)
	if err != nil {
		t.Fatalf("Ed25519 签名失败: %v", err)
	}
	if err := kms.Verify(keyID, msg, sig); err != nil {
		t.Errorf("Ed25519 验签失败: %v", err)
	}
	if err := kms.Verify(keyID, []byte("other"), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("篡改消息应返回 ErrInvalidSignature, 得到 %v", err)
	}
}

func TestLocalKMS_Secp256k1(t *testing.T) {
	kms := NewLocalKMS()

	keyID, err := kms.CreateKey(KeyTypeSecp256k1)
	if err != nil {
		t.Fatalf("创建 Secp256k1 密钥失败: %v", err)
	}

	msg := []byte("collator_staking.claim_rewards")
	sig, err := kms.Sign(keyID, msg)
	if err != nil {
		t.Fatalf("Secp256k1 签名失败: %v", err)
	}
	if err := kms.Verify(keyID, msg, sig); err != nil {
		t.Errorf("Secp256k1 验签失败: %v", err)
	}
}

func TestLocalKMS_ImportKey(t *testing.T) {
	kms := NewLocalKMS()
	seed := bytes.Repeat([]byte{1}, 32)

	id1, err := kms.ImportKey(KeyTypeEd25519, seed)
	if err != nil {
		t.Fatalf("导入密钥失败: %v", err)
	}
	id2, _ := kms.ImportKey(KeyTypeEd25519, seed)

	pub1, _ := kms.GetPublicKey(id1)
	pub2, _ := kms.GetPublicKey(id2)
	if !bytes.Equal(pub1.(ed25519.PublicKey), pub2.(ed25519.PublicKey)) {
		t.Error("同一种子导入的公钥应一致")
	}
	if id1 == id2 {
		t.Error("每次导入应生成新的 KeyID")
	}

	meta, err := kms.Metadata(id1)
	if err != nil || meta.Type != KeyTypeEd25519 || !meta.Enabled {
		t.Errorf("元数据错误: %+v, %v", meta, err)
	}
}

func TestLocalKMS_Errors(t *testing.T) {
	kms := NewLocalKMS()

	if _, err := kms.Sign("missing", []byte("x")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("期望 ErrKeyNotFound, 得到 %v", err)
	}
	if _, err := kms.CreateKey("RSA"); err == nil {
		t.Error("不支持的密钥类型应该报错")
	}

	keyID, _ := kms.CreateKey(KeyTypeEd25519)
	if err := kms.Disable(keyID); err != nil {
		t.Fatalf("Disable 失败: %v", err)
	}
	if _, err := kms.Sign(keyID, []byte("x")); !errors.Is(err, ErrKeyDisabled) {
		t.Errorf("期望 ErrKeyDisabled, 得到 %v", err)
	}
}
