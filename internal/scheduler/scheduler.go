package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"MarketScreener/internal/model"
	"MarketScreener/internal/notifier"
	"MarketScreener/internal/screener"

	"github.com/robfig/cron/v3"
)

const DefaultDailyCron = "0 30 15 * * 1-5"

// Scheduler triggers screening runs from cron and from chat commands.
type Scheduler struct {
	Cron        *cron.Cron
	Coordinator *screener.Coordinator
	Calendar    *TradingCalendar
	Ctx         context.Context

	now func() time.Time
}

// NewScheduler creates a Scheduler evaluating cron specs in loc.
func NewScheduler(ctx context.Context, coord *screener.Coordinator, cal *TradingCalendar, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		Cron:        cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		Coordinator: coord,
		Calendar:    cal,
		Ctx:         ctx,
		now:         time.Now,
	}
}

// Register schedules the daily screening run.
func (s *Scheduler) Register(dailyCron string) error {
	if dailyCron == "" {
		dailyCron = DefaultDailyCron
	}
	if _, err := s.Cron.AddFunc(dailyCron, s.dailyTask); err != nil {
		return fmt.Errorf("register daily task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

// RunNow starts a run with the default parameters, ignoring the trading calendar.
func (s *Scheduler) RunNow() error {
	return s.Coordinator.Start(s.Ctx, screener.Request{})
}

func (s *Scheduler) dailyTask() {
	today := s.now()
	if s.Calendar != nil && !s.Calendar.IsTradingDay(today) {
		log.Printf("[INFO] %s is not a trading day, skipping daily screening", today.Format("2006-01-02"))
		return
	}
	log.Println("[INFO] running daily screening")
	if err := s.RunNow(); err != nil {
		if errors.Is(err, screener.ErrAlreadyRunning) {
			log.Println("[INFO] screening already in progress, skipping scheduled run")
			return
		}
		log.Printf("[ERROR] start daily screening: %v", err)
	}
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}
	// "/screen@MyBot" in group chats
	name, _, _ := strings.Cut(fields[0], "@")

	switch name {
	case "/screen", "开始筛选":
		return s.startCommand(fields[1:])
	case "/cancel", "取消筛选":
		if s.Coordinator.Cancel() {
			return "🛑 已请求取消，正在处理中的股票完成后停止"
		}
		return "当前没有正在运行的筛选"
	case "/status", "查看进度":
		return notifier.FormatStatus(s.Coordinator.Status())
	default:
		return notifier.FormatHelp()
	}
}

// startCommand parses "[days] [segment]" in any order.
func (s *Scheduler) startCommand(args []string) string {
	var req screener.Request
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			req.Days = n
			if n == 0 {
				return "❌ 天数必须大于0"
			}
			continue
		}
		seg, ok := model.ParseSegment(a)
		if !ok {
			return fmt.Sprintf("❌ 未知参数: %s\n\n%s", a, notifier.FormatHelp())
		}
		req.Segment = seg
	}

	err := s.Coordinator.Start(s.Ctx, req)
	switch {
	case errors.Is(err, screener.ErrAlreadyRunning):
		return "⏳ 已有筛选正在运行\n\n" + notifier.FormatStatus(s.Coordinator.Status())
	case errors.Is(err, screener.ErrInvalidParams):
		return fmt.Sprintf("❌ 参数无效: %v", err)
	case err != nil:
		return fmt.Sprintf("❌ 启动失败: %v", err)
	}

	d := s.Coordinator.Defaults()
	days, segment := d.Days, d.Segment
	if req.Days != 0 {
		days = req.Days
	}
	if req.Segment != "" {
		segment = req.Segment
	}
	return fmt.Sprintf("🚀 开始筛选: %s | RSI(%d) &lt; %.0f 连续%d天\n完成后将发送结果",
		notifier.SegmentLabel(segment), d.Period, d.Threshold, days)
}
