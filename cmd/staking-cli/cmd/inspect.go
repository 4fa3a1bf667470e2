package cmd

import (
	"github.com/spf13/cobra"

	"staking-core/internal/event"
	"staking-core/internal/service/observer"
	"staking-core/internal/staking"
)

var inspectOpts struct {
	facts         string
	program       string
	precision     int32
	displayDigits int32
}

// inspectCmd 重放事实文件并输出快照
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "重放事实，输出质押状态、提醒和可用操作",
	Long: `读取 FactEvent 数组 (与 MQ 上 staking_facts 的消息格式相同)，
按到达顺序应用到指定质押方式上，然后输出重建后的快照。

  staking-cli inspect --facts facts.json --program pool`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prog, err := staking.ParseProgram(inspectOpts.program)
		if err != nil {
			return err
		}
		var events []event.FactEvent
		if err := readJSON(inspectOpts.facts, &events); err != nil {
			return err
		}
		snap, err := observer.Replay(events, prog, staking.AlertContext{
			Precision:     inspectOpts.precision,
			DisplayDigits: inspectOpts.displayDigits,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, snap)
	},
}

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&inspectOpts.facts, "facts", "", "事实文件 (JSON 数组)，- 表示标准输入")
	f.StringVar(&inspectOpts.program, "program", "", "质押方式: direct / pool / parachain / mythos")
	f.Int32Var(&inspectOpts.precision, "precision", 10, "资产精度 (小数位)")
	f.Int32Var(&inspectOpts.displayDigits, "display-digits", 4, "提醒里金额的展示位数")
	_ = inspectCmd.MarkFlagRequired("facts")
	_ = inspectCmd.MarkFlagRequired("program")
	rootCmd.AddCommand(inspectCmd)
}
