// Package scheduler запускает фоновые задачи приложения по cron-расписанию
// (github.com/robfig/cron/v3) и содержит периодическую проверку здоровья пула.
//
// Задачи именованы и регистрируются один раз:
//
//	s := scheduler.New(ctx, scheduler.Config{Logger: log})
//	probe := scheduler.NewHealthProbe(s, container, scheduler.ProbeOptions{Schedule: "@every 30s"})
//	if _, err := probe.Register(); err != nil {
//		return err
//	}
//	s.Start()
//	defer s.Stop(shutdownCtx)
//
// Паника в задаче перехватывается и логируется, ошибки не останавливают
// планировщик. Политики перекрытия (SkipIfRunning, DelayIfRunning) берутся
// из цепочек cron.
package scheduler
