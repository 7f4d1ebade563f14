package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zx-tiles/offline-proxy/internal/server/routes"
	"github.com/zx-tiles/offline-proxy/internal/sw"
)

// newMessageCmd 构造 message 子命令：向运行中的代理投递控制命令（skipWaiting / clearCache）。
func newMessageCmd(exitCode *int) *cobra.Command {
	var (
		addr    string
		target  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "message <command>",
		Short: "Post a control command (skipWaiting, clearCache) to a running proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.TrimSpace(args[0])
			if !sw.KnownCommand(command) {
				return fmt.Errorf("未知命令: %s", command)
			}
			code := postMessage(addr, target, command, timeout)
			if exitCode != nil {
				*exitCode = code
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:5000", "代理地址")
	cmd.Flags().StringVar(&target, "target", "", "目标 worker：active|waiting，默认优先 waiting")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "请求超时")
	return cmd
}

// postMessage 以裸字符串正文调用控制接口，并把响应原样输出。
func postMessage(addr, target, command string, timeout time.Duration) int {
	endpoint, err := messageEndpoint(addr, target)
	if err != nil {
		fmt.Fprintf(stdErr, "无效地址: %v\n", err)
		return 2
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(endpoint, "text/plain", strings.NewReader(command))
	if err != nil {
		fmt.Fprintf(stdErr, "发送控制命令失败: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		fmt.Fprintf(stdErr, "控制命令被拒绝 (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return 1
	}
	fmt.Fprintln(stdOut, strings.TrimSpace(string(body)))
	return 0
}

func messageEndpoint(addr, target string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if base.Host == "" {
		return "", fmt.Errorf("缺少 Host: %s", addr)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + routes.MessagePath
	if target != "" {
		base.RawQuery = url.Values{"target": {target}}.Encode()
	}
	return base.String(), nil
}
