package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Mailbox poll sweep, every minute
	CronSchedulePollAccounts string `env:"CRON_SCHEDULE_POLL_ACCOUNTS" envDefault:"0 * * * * *"`
	// Recovery sweep for messages stored but never processed, every 15 minutes
	CronScheduleProcessStale string `env:"CRON_SCHEDULE_PROCESS_STALE" envDefault:"0 */15 * * * *"`
}
