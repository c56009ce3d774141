package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sharedash/internal/explorer"
	"sharedash/internal/fs"
	"sharedash/internal/process"
	"sharedash/internal/session"
	"sharedash/internal/transform"
)

func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Interactive shell: navigate, select files, choose destination, run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, pipeline, err := a.newSession()
			if err != nil {
				return err
			}
			return newShell(sess, pipeline, os.Stdin, os.Stdout).Loop(GetContext())
		},
	}
}

const shellHelp = `Commands:
  ls                 list the current folder
  cd <n|name>        enter a folder
  back               go up one level
  root               go back to the library root
  sel <n|name>...    toggle file selection
  clear              clear the selection
  selected           show selected files
  stats <n|name>     data quality report for a CSV/XLSX file
  head <n|name> [k]  first k rows (default 10) after the configured cleaning steps
  pwd                show browse path and upload destination
  dest               choose the upload destination (then ls/cd/back, ok or cancel)
  run                download -> transform -> upload every selected file
  help               this help
  quit               exit`

// shell 交互式命令循环，<n> 按最近一次列表的编号解析 (从 1 开始)
type shell struct {
	sess     *session.Session
	pipeline *transform.Pipeline // head 预览使用，与 run 相同的清洗步骤
	in       *bufio.Reader
	out      io.Writer
	entries  []fs.Entry // 最近一次列表，文件夹在前
}

func newShell(sess *session.Session, pipeline *transform.Pipeline, in io.Reader, out io.Writer) *shell {
	return &shell{sess: sess, pipeline: pipeline, in: bufio.NewReader(in), out: out}
}

// Loop 读取并执行命令，直到 quit 或输入结束
func (s *shell) Loop(ctx context.Context) error {
	s.render(ctx)
	for {
		if s.sess.Choosing() {
			fmt.Fprintf(s.out, "dest %s> ", s.sess.Path())
		} else {
			fmt.Fprintf(s.out, "%s> ", s.sess.Path())
		}

		line, err := s.in.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			if quit := s.exec(ctx, line); quit {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// exec 执行一条命令，返回是否退出
func (s *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "ls":
		s.render(ctx)
	case "cd":
		err = s.withEntry(args, func(e fs.Entry) error { return s.sess.Enter(e) })
		if err == nil {
			s.render(ctx)
		}
	case "back", "..":
		var moved bool
		if moved, err = s.sess.Back(); err == nil {
			if !moved {
				fmt.Fprintln(s.out, "already at root")
			}
			s.render(ctx)
		}
	case "root":
		if err = s.sess.Root(); err == nil {
			s.render(ctx)
		}
	case "sel":
		err = s.toggle(args)
		if err == nil {
			s.render(ctx)
		}
	case "clear":
		if err = s.sess.ClearSelection(); err == nil {
			fmt.Fprintln(s.out, "selection cleared")
		}
	case "selected":
		s.printSelection()
	case "stats":
		err = s.withEntry(args, func(e fs.Entry) error { return s.stats(ctx, e) })
	case "head":
		err = s.head(ctx, args)
	case "pwd":
		fmt.Fprintf(s.out, "browse:      %s\ndestination: %s\n", s.sess.BrowsePath(), s.sess.DestinationPath())
	case "dest":
		if err = s.sess.BeginDestination(); err == nil {
			fmt.Fprintln(s.out, "choose the upload destination: ls / cd / back, then ok or cancel")
			s.render(ctx)
		}
	case "ok":
		var path string
		if path, err = s.sess.ConfirmDestination(); err == nil {
			fmt.Fprintf(s.out, "upload destination: %s\n", path)
			s.render(ctx)
		}
	case "cancel":
		if err = s.sess.CancelDestination(); err == nil {
			fmt.Fprintf(s.out, "upload destination: %s\n", s.sess.DestinationPath())
			s.render(ctx)
		}
	case "run":
		err = s.run(ctx)
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
	case "quit", "exit", "q":
		return true
	default:
		err = fmt.Errorf("unknown command %q (try help)", cmd)
	}

	if err != nil {
		s.printErr(err)
	}
	return false
}

// render 重新拉取并显示当前文件夹；选择上传目录时只显示文件夹
func (s *shell) render(ctx context.Context) {
	listing, err := s.sess.Listing(ctx)
	if err != nil {
		s.entries = nil
		s.printErr(err)
		return
	}

	choosing := s.sess.Choosing()
	s.entries = append([]fs.Entry(nil), listing.Folders...)
	if !choosing {
		s.entries = append(s.entries, listing.Files...)
	}

	fmt.Fprintf(s.out, "%s\n", s.sess.Path())
	if len(s.entries) == 0 {
		if choosing {
			fmt.Fprintln(s.out, "  (no subfolders)")
		} else {
			fmt.Fprintln(s.out, "  (empty)")
		}
		return
	}
	for i, e := range s.entries {
		if e.IsFolder() {
			fmt.Fprintf(s.out, "  %3d  [dir] %s/\n", i+1, e.Name)
			continue
		}
		mark := "[ ]"
		if s.sess.IsSelected(e.ID) {
			mark = "[x]"
		}
		fmt.Fprintf(s.out, "  %3d  %s %s (%s)\n", i+1, mark, e.Name, humanSize(e.Size))
	}
}

// resolve 按编号或名称查找最近一次列表中的节点
func (s *shell) resolve(arg string) (fs.Entry, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(s.entries) {
			return fs.Entry{}, fmt.Errorf("no entry #%d in the current listing", n)
		}
		return s.entries[n-1], nil
	}
	for _, e := range s.entries {
		if e.Name == arg {
			return e, nil
		}
	}
	return fs.Entry{}, fmt.Errorf("no entry named %q in the current listing", arg)
}

func (s *shell) withEntry(args []string, fn func(fs.Entry) error) error {
	if len(args) == 0 {
		return errors.New("missing argument: <n|name>")
	}
	entry, err := s.resolve(strings.Join(args, " "))
	if err != nil {
		return err
	}
	return fn(entry)
}

// toggle 支持一次切换多个编号；名称包含空格时整体作为一个参数
func (s *shell) toggle(args []string) error {
	if len(args) == 0 {
		return errors.New("missing argument: <n|name>")
	}
	targets := args
	if _, err := strconv.Atoi(args[0]); err != nil {
		targets = []string{strings.Join(args, " ")}
	}
	for _, arg := range targets {
		entry, err := s.resolve(arg)
		if err != nil {
			return err
		}
		if _, err := s.sess.Toggle(entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *shell) printSelection() {
	items := s.sess.Selection()
	if len(items) == 0 {
		fmt.Fprintln(s.out, "no files selected")
		return
	}
	fmt.Fprintf(s.out, "%d file(s) selected:\n", len(items))
	for i, it := range items {
		fmt.Fprintf(s.out, "  %3d  %s\n", i+1, it.Name)
	}
}

func (s *shell) run(ctx context.Context) error {
	total := len(s.sess.Selection())
	if total == 0 {
		return session.ErrEmptySelection
	}
	fmt.Fprintf(s.out, "processing %d file(s) -> %s\n", total, s.sess.DestinationPath())

	progress := newRunProgress(s.out, total)
	run, err := s.sess.Run(ctx, progress.OnStatus)
	if err != nil {
		return err
	}
	progress.Finish()

	printRun(s.out, run)
	return nil
}

func (s *shell) stats(ctx context.Context, entry fs.Entry) error {
	data, err := s.sess.Download(ctx, entry)
	if err != nil {
		return err
	}
	table, err := transform.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", entry.Name, err)
	}
	printStats(s.out, entry.Name, table)
	return nil
}

// head 下载文件并套用清洗步骤后显示前几行，不上传
func (s *shell) head(ctx context.Context, args []string) error {
	limit := defaultHeadRows
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[len(args)-1]); err == nil {
			if n < 1 {
				return fmt.Errorf("row count must be positive, got %d", n)
			}
			limit, args = n, args[:len(args)-1]
		}
	}
	return s.withEntry(args, func(entry fs.Entry) error {
		data, err := s.sess.Download(ctx, entry)
		if err != nil {
			return err
		}
		table, err := transform.Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name, err)
		}
		if s.pipeline != nil {
			if err := s.pipeline.Apply(table); err != nil {
				return fmt.Errorf("%s: %w", entry.Name, err)
			}
		}
		printHead(s.out, entry.Name, table, limit)
		return nil
	})
}

func (s *shell) printErr(err error) {
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrEmptySelection),
		errors.Is(err, session.ErrChoosing), errors.Is(err, explorer.ErrNotListed):
		fmt.Fprintf(s.out, "! %v\n", err)
	case errors.Is(err, fs.ErrAuth):
		fmt.Fprintf(s.out, "! authentication failed, check credentials or run `sharedash login`: %v\n", err)
	case fs.IsNotFound(err):
		fmt.Fprintf(s.out, "! %v\n  the folder may have been moved or deleted; use `back` or `root`\n", err)
	default:
		fmt.Fprintf(s.out, "! %v\n", err)
	}
}

func printRun(w io.Writer, run *process.Run) {
	for _, res := range run.Results {
		if res.Status == process.StatusDone {
			fmt.Fprintf(w, "  ok      %s -> %s\n", res.Name, res.Output.Name)
		} else {
			fmt.Fprintf(w, "  failed  %s: %v\n", res.Name, res.Err)
		}
	}
	fmt.Fprintf(w, "%d done, %d failed in %s\n",
		run.Succeeded(), run.Failed(), run.Finished.Sub(run.Started).Round(time.Millisecond))
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
