package commands

import (
	"errors"
	"fmt"
	"os"

	"slobstore/pkg/app"
	"slobstore/pkg/config"
	"slobstore/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 全局应用实例，供子命令使用
var SLOB *app.App

// NewRootCmd 每次构造一棵新的命令树，flag 状态不会在多次执行之间残留
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "slobctl",
		Short:        "slobctl: inspect and mutate versioned conversation wavelets",
		SilenceUsage: true,
		// PersistentPreRunE 会在所有子命令执行前运行
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(cfgFile); err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			// 测试可以预先注入 SLOB
			if SLOB != nil {
				return nil
			}
			var err error
			SLOB, err = app.NewApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize slobctl: %w", err)
			}
			return nil
		},
	}

	// 全局参数
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./.slob/config.yaml or $HOME/.slob/config.yaml)")
	flags.String("as", "", "caller identity, e.g. alice@example.com (env SLOB_AS)")
	flags.Bool("verbose", false, "enable debug logging")
	// 既可以在 yaml 里写，也可以用 flag 覆盖
	_ = viper.BindPFlag("as", flags.Lookup("as"))
	_ = viper.BindPFlag("log.verbose", flags.Lookup("verbose"))

	rootCmd.AddCommand(
		newNewCmd(),
		newMutateCmd(),
		newShowCmd(),
		newHistoryCmd(),
		newSearchCmd(),
		newIndexCmd(),
	)
	return rootCmd
}

// Execute 是入口
// RunE 返回错误时 cobra 不会执行 PostRun，所以在这里统一释放 App
func Execute() error {
	defer closeApp()
	return NewRootCmd().Execute()
}

func closeApp() {
	if SLOB == nil {
		return
	}
	if err := SLOB.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close error:", err)
	}
	SLOB = nil
}

var errNoCaller = errors.New("caller identity is required (use --as or SLOB_AS)")

// caller 返回 --as 指定的身份
func caller() (types.Caller, error) {
	c := types.Caller{ID: viper.GetString("as")}
	if c.IsZero() {
		return c, errNoCaller
	}
	return c, nil
}

func appReady() error {
	if SLOB == nil {
		return fmt.Errorf("app not initialized")
	}
	return nil
}
