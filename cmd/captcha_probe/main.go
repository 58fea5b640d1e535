// captcha_probe 用给定的极验参数跑一次验证码求解，用于检查打码配置是否可用。
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"ticket_grabber/internal/captcha"
	"ticket_grabber/internal/config"
)

func main() {
	var (
		configPath string
		gt         string
		challenge  string
		referer    string
		timeout    time.Duration
	)
	pflag.StringVarP(&configPath, "config", "c", "./config.yaml", "配置文件路径")
	pflag.StringVar(&gt, "gt", "", "极验 gt")
	pflag.StringVar(&challenge, "challenge", "", "极验 challenge")
	pflag.StringVar(&referer, "referer", "https://api.bilibili.com/x/gaia-vgate/v1/validate", "验证页 referer")
	pflag.DurationVar(&timeout, "timeout", 3*time.Minute, "整体超时")
	pflag.Parse()

	if gt == "" || challenge == "" {
		fmt.Fprintln(os.Stderr, "需要 --gt 与 --challenge")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	solver, closeSolver, err := captcha.New(cfg.Captcha)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化验证码求解器失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeSolver() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	started := time.Now()
	fmt.Printf("使用 %s 求解...\n", cfg.Captcha.Mode)
	res, err := solver.Solve(ctx, captcha.Challenge{
		GT:        gt,
		Challenge: challenge,
		ItemID:    captcha.ItemIDGeetestV3,
		Referer:   referer,
	})
	if err != nil {
		fmt.Printf("求解失败（%s）: %v\n", time.Since(started).Round(time.Millisecond), err)
		os.Exit(1)
	}
	fmt.Printf("求解成功（%s）\nchallenge=%s\nvalidate=%s\nseccode=%s\n",
		time.Since(started).Round(time.Millisecond), res.Challenge, res.Validate, res.Seccode)
}
