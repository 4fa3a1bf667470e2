package crypto_util

import (
	"bytes"
	"testing"
)

func TestEd25519(t *testing.T) {
	priv, pub, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair 失败: %v", err)
	}

	msg := []byte("payout_stakers")
	sig := Ed25519Sign(priv, msg)

	if !Ed25519Verify(pub, msg, sig) {
		t.Error("对于有效的签名，Ed25519Verify 返回了 false")
	}
	if Ed25519Verify(pub, []byte("payout_stakers!"), sig) {
		t.Error("对于篡改后的消息，Ed25519Verify 应该返回 false")
	}
}

func TestEd25519FromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	priv1, pub1, err := Ed25519FromSeed(seed)
	if err != nil {
		t.Fatalf("Ed25519FromSeed 失败: %v", err)
	}
	_, pub2, _ := Ed25519FromSeed(seed)
	if !bytes.Equal(pub1, pub2) {
		t.Error("同一种子应得到同一公钥")
	}
	if !Ed25519Verify(pub1, []byte("x"), Ed25519Sign(priv1, []byte("x"))) {
		t.Error("种子恢复的密钥签名验证失败")
	}

	if _, _, err := Ed25519FromSeed([]byte{1, 2}); err == nil {
		t.Error("种子长度错误应该返回 error")
	}
}

func TestSecp256k1(t *testing.T) {
	priv, pub, err := GenerateSecp256k1KeyPair()
	if err != nil {
		t.Fatalf("GenerateSecp256k1KeyPair 失败: %v", err)
	}

	msg := []byte("collator_staking.claim_rewards")
	sig, err := Secp256k1Sign(priv, msg)
	if err != nil {
		t.Fatalf("Secp256k1Sign 失败: %v", err)
	}
	if len(sig) != 65 {
		t.Errorf("签名长度 = %d, 期望 65", len(sig))
	}
	if !Secp256k1Verify(pub, msg, sig) {
		t.Error("有效签名验证失败")
	}
	if Secp256k1Verify(pub, []byte("other"), sig) {
		t.Error("篡改消息应验证失败")
	}

	addr := Secp256k1Address(pub)
	if len(addr) != 20 {
		t.Errorf("地址长度错误: %d", len(addr))
	}
}
