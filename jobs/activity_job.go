package jobs

import (
	"context"
	"time"

	"github.com/sakani/sakani_backend/logger"
	"go.uber.org/zap"
)

type ConnectionStats interface {
	Stats() (connections, rooms int)
}

type BacklogCounter interface {
	UnreadBacklog(ctx context.Context) (int64, error)
}

// ReportChatActivity logs live channel usage and the unread backlog. It is meant
// to be scheduled with cron.
func ReportChatActivity(stats ConnectionStats, backlog BacklogCounter) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		connections, rooms := stats.Stats()
		unread, err := backlog.UnreadBacklog(ctx)
		if err != nil {
			logger.Log.Error("chat_activity_report_failed", zap.Error(err))
			return
		}

		logger.Log.Info("chat_activity",
			zap.Int("connections", connections),
			zap.Int("rooms", rooms),
			zap.Int64("unread_backlog", unread))
	}
}
