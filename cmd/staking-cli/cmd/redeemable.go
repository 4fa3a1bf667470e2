package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"staking-core/internal/staking"
)

var redeemableOpts struct {
	requests string
	round    uint32
	duration time.Duration
}

type redeemableView struct {
	Round      uint32                     `json:"round"`
	Redeemable staking.Redeemable         `json:"redeemable"`
	Pending    []staking.PendingUnbonding `json:"pending"`
}

// redeemableCmd 计算可赎回金额
var redeemableCmd = &cobra.Command{
	Use:   "redeemable",
	Short: "计算解绑请求在当前 era / round 的可赎回金额",
	Long: `读取 UnbondingEntry 数组 ({"key","amount","release_at"})，
release_at <= round 的条目计入可赎回，其余按剩余 round 列出。

  staking-cli redeemable --requests unbonding.json --round 1024`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []staking.UnbondingEntry
		if err := readJSON(redeemableOpts.requests, &entries); err != nil {
			return err
		}
		round := staking.RoundInfo{Current: redeemableOpts.round, Duration: redeemableOpts.duration}
		pending := staking.PendingUnbondings(entries, round)
		if pending == nil {
			pending = []staking.PendingUnbonding{}
		}
		return printJSON(cmd, redeemableView{
			Round:      redeemableOpts.round,
			Redeemable: staking.CalculateRedeemable(entries, redeemableOpts.round),
			Pending:    pending,
		})
	},
}

func init() {
	f := redeemableCmd.Flags()
	f.StringVar(&redeemableOpts.requests, "requests", "", "解绑请求文件 (JSON 数组)，- 表示标准输入")
	f.Uint32Var(&redeemableOpts.round, "round", 0, "当前 era / round")
	f.DurationVar(&redeemableOpts.duration, "round-duration", 0, "单个 round 的时长，用于估算到期时间")
	_ = redeemableCmd.MarkFlagRequired("requests")
	_ = redeemableCmd.MarkFlagRequired("round")
	rootCmd.AddCommand(redeemableCmd)
}
