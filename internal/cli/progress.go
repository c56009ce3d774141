package cli

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"sharedash/internal/process"
)

// runProgress 批处理进度条，每个文件到达终态时前进一格
type runProgress struct {
	bar *progressbar.ProgressBar
}

func newRunProgress(w io.Writer, total int) *runProgress {
	return &runProgress{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetDescription("processing"),
			progressbar.OptionSetWriter(w),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(0),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(w, "\n")
			}),
			progressbar.OptionSetRenderBlankState(true),
		),
	}
}

// OnStatus 作为 process.Options.OnStatus 使用
func (p *runProgress) OnStatus(res process.FileResult) {
	if res.Status.Terminal() {
		_ = p.bar.Add(1)
		return
	}
	p.bar.Describe(fmt.Sprintf("%-12s %s", res.Status, res.Name))
}

func (p *runProgress) Finish() {
	_ = p.bar.Finish()
}
