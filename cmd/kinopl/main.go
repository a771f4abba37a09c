package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, "")
	stop()
	if code != 0 {
		os.Exit(code)
	}
}

// run 是可测试的入口：cwd 为空时取当前目录。
func run(ctx context.Context, args []string, stdout, stderr io.Writer, cwd string) int {
	a := &cli{stdout: stdout, stderr: stderr, cwd: cwd}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if cmd, err := root.ExecuteContextC(ctx); err != nil {
		a.errorf("参数错误：%v\n\n%s", err, cmd.UsageString())
		return 2
	}
	return a.code
}
