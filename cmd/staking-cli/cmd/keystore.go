package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"staking-core/internal/service/signer"
	"staking-core/pkg/keystore"
	"staking-core/pkg/kms"
	"staking-core/pkg/validator"
)

var keystoreOpts struct {
	account string
	keyType string
	seed    string
	dir     string
	light   bool
}

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "管理 staking-worker 使用的加密签名种子",
}

// keystoreImportCmd 加密一个种子并写入目录，密码从 SIGNER_PASSWORD 读取
var keystoreImportCmd = &cobra.Command{
	Use:   "import",
	Short: "加密签名种子并写入 keystore 目录",
	Long: `种子会先导入本地 KMS 校验是否控制该账户，然后用 SIGNER_PASSWORD 加密。

  SIGNER_PASSWORD=... staking-cli keystore import --account 0x... --seed 0x... --dir ./keys`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("SIGNER_PASSWORD")
		if password == "" {
			return fmt.Errorf("SIGNER_PASSWORD 未设置")
		}
		if !validator.IsHexAccount(keystoreOpts.account) {
			return fmt.Errorf("账户必须是 0x 开头的 32 或 20 字节十六进制: %s", keystoreOpts.account)
		}
		seed, err := hex.DecodeString(strings.TrimPrefix(keystoreOpts.seed, "0x"))
		if err != nil {
			return fmt.Errorf("种子不是十六进制: %w", err)
		}

		kType := kms.KeyType(keystoreOpts.keyType)
		if err := checkControls(kType, seed, keystoreOpts.account); err != nil {
			return err
		}

		params := keystore.StandardParams
		if keystoreOpts.light {
			params = keystore.LightParams
		}
		f, err := keystore.EncryptSeed(keystoreOpts.account, string(kType), seed, password, params)
		if err != nil {
			return err
		}
		path, err := f.Save(keystoreOpts.dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已写入 %s (id %s)\n", path, f.Id)
		return nil
	},
}

// checkControls 种子推导出的账户必须与 --account 一致
func checkControls(kType kms.KeyType, seed []byte, account string) error {
	keys := kms.NewLocalKMS()
	keyID, err := keys.ImportKey(kType, seed)
	if err != nil {
		return err
	}
	// 只用来推导账户，不会签名
	derived, err := signer.NewKMSSigner(keys, nil).Account(keyID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(derived, account) {
		return fmt.Errorf("种子对应账户 %s，与 %s 不一致", derived, account)
	}
	return nil
}

func init() {
	f := keystoreImportCmd.Flags()
	f.StringVar(&keystoreOpts.account, "account", "", "链上账户 (0x 十六进制)")
	f.StringVar(&keystoreOpts.keyType, "type", string(kms.KeyTypeEd25519), "密钥类型: Ed25519 / Secp256k1")
	f.StringVar(&keystoreOpts.seed, "seed", "", "32 字节种子 (0x 十六进制)")
	f.StringVar(&keystoreOpts.dir, "dir", ".", "输出目录")
	f.BoolVar(&keystoreOpts.light, "light", false, "使用较弱的 scrypt 参数 (仅测试网)")
	_ = keystoreImportCmd.MarkFlagRequired("account")
	_ = keystoreImportCmd.MarkFlagRequired("seed")
	keystoreCmd.AddCommand(keystoreImportCmd)
	rootCmd.AddCommand(keystoreCmd)
}
