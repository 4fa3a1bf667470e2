package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"go.uber.org/zap"

	"staking-core/internal/service/chainrpc"
	"staking-core/internal/staking"
	"staking-core/pkg/crypto_util"
	"staking-core/pkg/errno"
	"staking-core/pkg/kms"
	"staking-core/pkg/logger"
)

var _ staking.Signer = (*KMSSigner)(nil)

const (
	// 已签名 + extrinsic v4
	signedExtrinsicV4 = 0x84
	// MultiAddress::Id / MultiSignature::Ed25519
	multiAddressID   = 0x00
	multiSigEd25519  = 0x00
	immortalEra      = 0x00
	maxPayloadLength = 256
)

// ChainInfo *chainrpc.Pool 实现它
type ChainInfo interface {
	SigningContext(ctx context.Context, account staking.AccountKey) (chainrpc.SigningContext, error)
}

// KMSSigner 用 KeyManager 中的密钥为账户签名，私钥不经过这里
type KMSSigner struct {
	keys  kms.KeyManager
	chain ChainInfo

	mu       sync.RWMutex
	accounts map[staking.AccountKey]string
	log      *zap.Logger
}

func NewKMSSigner(keys kms.KeyManager, chain ChainInfo) *KMSSigner {
	return &KMSSigner{
		keys:     keys,
		chain:    chain,
		accounts: make(map[staking.AccountKey]string),
		log:      logger.Named("signer"),
	}
}

// Register 绑定账户和密钥，公钥必须与账户一致
func (s *KMSSigner) Register(account staking.AccountKey, keyID string) error {
	addr, err := s.address(keyID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(codec.HexEncodeToString(addr), account.Account) {
		return errno.Wrapf(errno.ErrSigning, "key %s does not control %s", keyID, account)
	}
	s.mu.Lock()
	s.accounts[account] = keyID
	s.mu.Unlock()
	s.log.Info("account registered", zap.String("account", account.String()), zap.String("key_id", keyID))
	return nil
}

// Account 由公钥推导链上账户 (0x 十六进制)
func (s *KMSSigner) Account(keyID string) (string, error) {
	addr, err := s.address(keyID)
	if err != nil {
		return "", err
	}
	return codec.HexEncodeToString(addr), nil
}

// address Ed25519 为 32 字节公钥，Secp256k1 为以太坊风格 20 字节地址
func (s *KMSSigner) address(keyID string) ([]byte, error) {
	pub, err := s.keys.GetPublicKey(keyID)
	if err != nil {
		return nil, errno.Wrap(errno.ErrSigning, err)
	}
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return []byte(k), nil
	case *ecdsa.PublicKey:
		return crypto_util.Secp256k1Address(k), nil
	default:
		return nil, errno.Wrapf(errno.ErrSigning, "unsupported public key %T", pub)
	}
}

func (s *KMSSigner) keyFor(account staking.AccountKey) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.accounts[account]
	return id, ok
}

// Sign 构造签名交易: compact(len) ++ 0x84 ++ address ++ signature ++ extra ++ call
func (s *KMSSigner) Sign(ctx context.Context, account staking.AccountKey, call []byte) ([]byte, error) {
	keyID, ok := s.keyFor(account)
	if !ok {
		return nil, errno.Wrapf(errno.ErrSigning, "no signing key for %s", account)
	}
	meta, err := s.keys.Metadata(keyID)
	if err != nil {
		return nil, errno.Wrap(errno.ErrSigning, err)
	}
	if !meta.Enabled {
		return nil, errno.Wrap(errno.ErrSigning, kms.ErrKeyDisabled)
	}
	sc, err := s.chain.SigningContext(ctx, account)
	if err != nil {
		return nil, err
	}

	extra, err := signedExtra(sc.Nonce)
	if err != nil {
		return nil, errno.Wrap(errno.ErrSigning, err)
	}
	payload := SigningPayload(call, extra, sc)

	sig, err := s.keys.Sign(keyID, payload)
	if err != nil {
		return nil, errno.Wrap(errno.ErrSigning, err)
	}
	addr, err := s.address(keyID)
	if err != nil {
		return nil, err
	}

	body := []byte{signedExtrinsicV4}
	switch meta.Type {
	case kms.KeyTypeEd25519:
		body = append(body, multiAddressID)
		body = append(body, addr...)
		body = append(body, multiSigEd25519)
		body = append(body, sig...)
	case kms.KeyTypeSecp256k1:
		// AccountId20 + EthereumSignature，均无前缀
		body = append(body, addr...)
		body = append(body, sig...)
	default:
		return nil, errno.Wrapf(errno.ErrSigning, "unsupported key type %s", meta.Type)
	}
	body = append(body, extra...)
	body = append(body, call...)

	prefix, err := compact(uint64(len(body)))
	if err != nil {
		return nil, errno.Wrap(errno.ErrSigning, err)
	}
	s.log.Debug("signed",
		zap.String("account", account.String()),
		zap.Uint64("nonce", sc.Nonce),
		zap.Uint32("spec_version", sc.SpecVersion),
	)
	return append(prefix, body...), nil
}

// signedExtra 永久 era + nonce + tip(0)
func signedExtra(nonce uint64) ([]byte, error) {
	n, err := compact(nonce)
	if err != nil {
		return nil, err
	}
	tip, err := compact(0)
	if err != nil {
		return nil, err
	}
	extra := []byte{immortalEra}
	extra = append(extra, n...)
	return append(extra, tip...), nil
}

// SigningPayload call ++ extra ++ spec_version ++ tx_version ++ genesis ++ genesis(永久 era 的区块哈希)
// 超过 256 字节时签名其 blake2b-256
func SigningPayload(call, extra []byte, sc chainrpc.SigningContext) []byte {
	payload := make([]byte, 0, len(call)+len(extra)+8+2*len(sc.GenesisHash))
	payload = append(payload, call...)
	payload = append(payload, extra...)
	payload = binary.LittleEndian.AppendUint32(payload, sc.SpecVersion)
	payload = binary.LittleEndian.AppendUint32(payload, sc.TransactionVersion)
	payload = append(payload, sc.GenesisHash...)
	payload = append(payload, sc.GenesisHash...)
	if len(payload) > maxPayloadLength {
		return crypto_util.Blake2b256(payload)
	}
	return payload
}

func compact(v uint64) ([]byte, error) {
	bz, err := codec.Encode(types.NewUCompactFromUInt(v))
	if err != nil {
		return nil, fmt.Errorf("compact %d: %w", v, err)
	}
	return bz, nil
}
