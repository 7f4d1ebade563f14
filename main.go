package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zx-tiles/offline-proxy/internal/config"
	"github.com/zx-tiles/offline-proxy/internal/logging"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	watch       bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 构建命令树并执行，返回进程退出码；参数错误返回 2。
func execute(args []string) int {
	exitCode := 0
	root := newRootCmd(func(opts cliOptions) {
		exitCode = run(opts)
	})
	root.AddCommand(newVersionCmd(), newMessageCmd(&exitCode))
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return 2
	}
	return exitCode
}

func newRootCmd(runFn func(cliOptions)) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "offline-proxy",
		Short:         "Offline-first caching reverse proxy for the zx-tiles web app",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := optionsFromFlags(cmd)
			if err != nil {
				return err
			}
			if runFn != nil {
				runFn(opts)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_PROXY_CONFIG 覆盖）")
	flags.Bool("check-config", false, "仅校验配置后退出")
	flags.Bool("version", false, "显示版本信息")
	flags.Bool("watch", false, "监听配置文件，Version 变化时安装新的 worker")
	return cmd
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	cmd := newRootCmd(nil)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.ParseFlags(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	return optionsFromFlags(cmd)
}

func optionsFromFlags(cmd *cobra.Command) (cliOptions, error) {
	flags := cmd.Flags()
	configFlag, _ := flags.GetString("config")
	checkOnly, _ := flags.GetBool("check-config")
	showVer, _ := flags.GetBool("version")
	watch, _ := flags.GetBool("watch")

	overrides, err := config.ParseEnv()
	if err != nil {
		return cliOptions{}, err
	}

	path := overrides.ConfigPath
	if strings.TrimSpace(configFlag) != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		watch:       watch,
	}, nil
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Site.Origin
		fields["upstream"] = cfg.Site.Upstream
		fields["version"] = cfg.Site.Version
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if err := serve(opts, cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig 读取配置文件并叠加环境变量覆盖项。
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	overrides, err := config.ParseEnv()
	if err != nil {
		return nil, err
	}
	overrides.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
