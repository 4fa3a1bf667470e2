package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/scrypt"

	"staking-core/pkg/safe_random"
)

// ErrWrongPassword MAC 校验失败: 密码错误或文件损坏
var ErrWrongPassword = errors.New("keystore: invalid password or corrupted data")

// SeedFile 加密保存的签名种子
// 结构参照 Ethereum Keystore V3，额外记录账户和密钥类型，便于启动时直接绑定
type SeedFile struct {
	Account string     `json:"account"`
	KeyType string     `json:"key_type"`
	Crypto  CryptoJSON `json:"crypto"`
	Id      string     `json:"id"`
	Version int        `json:"version"`
}

type CryptoJSON struct {
	Cipher       string       `json:"cipher"`     // aes-256-gcm
	CipherText   string       `json:"ciphertext"` // hex
	CipherParams CipherParams `json:"cipherparams"`
	KDF          string       `json:"kdf"` // scrypt
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"`
}

type CipherParams struct {
	IV string `json:"iv"`
}

type KDFParams struct {
	DKLen int    `json:"dklen"`
	N     int    `json:"n"`
	R     int    `json:"r"`
	P     int    `json:"p"`
	Salt  string `json:"salt"`
}

// Params scrypt 参数，测试里用 LightParams 加速
type Params struct {
	N, R, P int
}

var (
	StandardParams = Params{N: 262144, R: 8, P: 1}
	LightParams    = Params{N: 4096, R: 8, P: 1}
)

const dkLen = 32

// EncryptSeed 用密码加密签名种子
func EncryptSeed(account, keyType string, seed []byte, password string, params Params) (*SeedFile, error) {
	salt, err := safe_random.GenerateRandomBytes(32)
	if err != nil {
		return nil, err
	}
	derived, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, dkLen)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(derived)
	if err != nil {
		return nil, err
	}
	nonce, err := safe_random.GenerateRandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	// 账户作为附加数据，防止文件之间互换密文
	ciphertext := gcm.Seal(nil, nonce, seed, []byte(strings.ToLower(account)))

	id, err := safe_random.GenerateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	return &SeedFile{
		Account: account,
		KeyType: keyType,
		Version: 3,
		Id:      id,
		Crypto: CryptoJSON{
			Cipher:       "aes-256-gcm",
			CipherText:   hex.EncodeToString(ciphertext),
			CipherParams: CipherParams{IV: hex.EncodeToString(nonce)},
			KDF:          "scrypt",
			KDFParams: KDFParams{
				DKLen: dkLen,
				N:     params.N,
				R:     params.R,
				P:     params.P,
				Salt:  hex.EncodeToString(salt),
			},
			MAC: hex.EncodeToString(mac(derived, ciphertext)),
		},
	}, nil
}

// Decrypt 解出种子
func (f *SeedFile) Decrypt(password string) ([]byte, error) {
	c := f.Crypto
	if c.KDF != "scrypt" || c.Cipher != "aes-256-gcm" {
		return nil, fmt.Errorf("keystore: unsupported %s/%s", c.KDF, c.Cipher)
	}
	salt, err := hex.DecodeString(c.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid salt: %w", err)
	}
	nonce, err := hex.DecodeString(c.CipherParams.IV)
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(c.CipherText)
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid ciphertext: %w", err)
	}
	want, err := hex.DecodeString(c.MAC)
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid mac: %w", err)
	}

	derived, err := scrypt.Key([]byte(password), salt, c.KDFParams.N, c.KDFParams.R, c.KDFParams.P, c.KDFParams.DKLen)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(want, mac(derived, ciphertext)) {
		return nil, ErrWrongPassword
	}
	gcm, err := newGCM(derived)
	if err != nil {
		return nil, err
	}
	seed, err := gcm.Open(nil, nonce, ciphertext, []byte(strings.ToLower(f.Account)))
	if err != nil {
		return nil, fmt.Errorf("keystore: decryption failed: %w", err)
	}
	return seed, nil
}

// Save 写入 dir/<account>.json，权限 0600
func (f *SeedFile) Save(dir string) (string, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, strings.ToLower(f.Account)+".json")
	return path, os.WriteFile(path, data, 0o600)
}

func Load(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f SeedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("keystore: %s: %w", path, err)
	}
	return &f, nil
}

// LoadDir 读取目录下所有 *.json
func LoadDir(dir string) ([]*SeedFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	files := make([]*SeedFile, 0, len(paths))
	for _, p := range paths {
		f, err := Load(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// mac = sha256(derivedKey || ciphertext)
func mac(derived, ciphertext []byte) []byte {
	h := sha256.New()
	h.Write(derived)
	h.Write(ciphertext)
	return h.Sum(nil)
}
