package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"MarketScreener/internal/model"
)

// maxReportRows keeps a report under Telegram's message size limit.
const maxReportRows = 40

var segmentLabels = map[model.MarketSegment]string{
	model.SegmentAll:          "沪深A股",
	model.SegmentShanghaiMain: "上证主板",
	model.SegmentShenzhenMain: "深证主板",
}

// SegmentLabel returns the display name of a market segment.
func SegmentLabel(s model.MarketSegment) string {
	if l, ok := segmentLabels[s]; ok {
		return l
	}
	return string(s)
}

// FormatRunReport formats a finished run into a Telegram message.
func FormatRunReport(run model.RunSnapshot) string {
	var b strings.Builder

	date := run.FinishedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString(fmt.Sprintf("📉 <b>RSI超卖筛选</b> | %s\n\n", date.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("市场: %s | 条件: RSI(%d) &lt; %.0f 连续%d天\n",
		SegmentLabel(run.Segment), run.Period, run.Threshold, run.Days))

	if run.Error != "" {
		b.WriteString(fmt.Sprintf("\n❌ 筛选失败: %s\n", html.EscapeString(run.Error)))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("已处理: %d/%d", run.Completed, run.Total))
	if run.Status == model.StatusCancelled {
		b.WriteString(" (已取消)")
	}
	if !run.FinishedAt.IsZero() && !run.StartedAt.IsZero() {
		b.WriteString(fmt.Sprintf(" | 耗时 %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Second)))
	}
	b.WriteString("\n\n")

	if len(run.Matches) == 0 {
		b.WriteString("未找到符合条件的股票\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("✅ <b>符合条件: %d 只</b>\n", len(run.Matches)))
	for i, r := range run.Matches {
		if i == maxReportRows {
			b.WriteString(fmt.Sprintf("… 另有 %d 只未显示\n", len(run.Matches)-maxReportRows))
			break
		}
		b.WriteString(FormatMatch(r))
	}
	return b.String()
}

// FormatMatch formats one result as a report line.
func FormatMatch(r model.ScreeningResult) string {
	return fmt.Sprintf("<code>%s</code> %s | ¥%.2f | RSI %.2f | %+.2f%% | %s\n",
		r.Symbol, html.EscapeString(r.Name), r.LastPrice, r.Oscillator, r.ChangePercent, html.EscapeString(r.Industry))
}

// FormatStatus formats the current or last run for the /status command.
func FormatStatus(run model.RunSnapshot) string {
	var b strings.Builder
	b.WriteString("📦 <b>筛选状态</b>\n\n")

	switch run.Status {
	case model.StatusIdle:
		b.WriteString("状态: 空闲\n")
		return b.String()
	case model.StatusRunning:
		b.WriteString("状态: 运行中\n")
	case model.StatusCancelled:
		b.WriteString("状态: 已取消\n")
	default:
		b.WriteString("状态: 已完成\n")
	}
	b.WriteString(fmt.Sprintf("市场: %s | 连续%d天\n", SegmentLabel(run.Segment), run.Days))
	b.WriteString(fmt.Sprintf("进度: %d/%d (%.0f%%)\n", run.Completed, run.Total, run.Percent()))
	b.WriteString(fmt.Sprintf("已匹配: %d\n", len(run.Matches)))
	if run.Error != "" {
		b.WriteString(fmt.Sprintf("错误: %s\n", html.EscapeString(run.Error)))
	}
	b.WriteString(fmt.Sprintf("开始时间: %s\n", run.StartedAt.Format("2006-01-02 15:04:05")))
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "🤖 <b>MarketScreener 命令</b>\n\n" +
		"/screen [天数] [市场] - 开始筛选 (市场: all, sh_main, sz_main)\n" +
		"/cancel - 取消当前筛选\n" +
		"/status - 查看筛选进度\n" +
		"/help - 显示帮助"
}
