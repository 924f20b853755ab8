// The alertmanager daemon schedules alert delivery: it polls the database
// for dispatchable alerts, hands them to a pool of worker processes over a
// local socket, and writes delivery outcomes back.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/esotel/zabbix/config"
	"github.com/esotel/zabbix/ipc"
	"github.com/esotel/zabbix/logger"
	"github.com/esotel/zabbix/macro"
	"github.com/esotel/zabbix/queue"
	"github.com/esotel/zabbix/store"
	"github.com/esotel/zabbix/telemetry"
	"github.com/esotel/zabbix/worker"
)

// statInterval paces the sent/failed/idle status line.
const statInterval = 5 * time.Second

func main() {
	configFile := flag.String("config", "", "path to configuration file")
	workerBin := flag.String("worker", "", "path to the alertworker binary (default: next to this binary)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	ctx := context.Background()

	metrics, err := telemetry.New(nil)
	if err != nil {
		log.Error(ctx, "cannot initialize telemetry: %v", err)
		os.Exit(1)
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Error(ctx, "cannot open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error(ctx, "cannot connect to database: %v", err)
		os.Exit(1)
	}

	svc, err := ipc.StartService(cfg.SocketPath, log)
	if err != nil {
		log.Error(ctx, "cannot start alerter service: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	pool := worker.NewPool(cfg.AlerterForks, os.Getpid(), cfg.AlertScriptsPath, macro.Default, log)
	q := queue.NewManager()
	st := store.New(db, log)

	spawnWorkers(ctx, log, *workerBin, cfg.SocketPath, cfg.AlerterForks)

	log.Info(ctx, "alert manager started (workers: %d, poll: %ds)", cfg.AlerterForks, cfg.SenderFrequency)

	run(ctx, log, metrics, cfg, svc, pool, q, st)
}

func newLogger(level string) logger.Interface {
	cfg := logger.Config{
		SlowThreshold: 200 * time.Millisecond,
		Colorful:      true,
	}
	switch level {
	case "silent":
		cfg.LogLevel = logger.Silent
	case "error":
		cfg.LogLevel = logger.Error
	case "info":
		cfg.LogLevel = logger.Info
	case "debug":
		cfg.LogLevel = logger.Debug
	default:
		cfg.LogLevel = logger.Warn
	}
	return logger.New(consoleWriter{}, cfg)
}

type consoleWriter struct{}

func (consoleWriter) Printf(msg string, data ...interface{}) {
	fmt.Printf(msg+"\n", data...)
}

// spawnWorkers launches the delivery worker processes. Each connects back
// over the socket and registers with this process's pid as its parent.
// Failure to spawn is not fatal: the slots simply stay unregistered and
// operators can start workers by hand.
func spawnWorkers(ctx context.Context, log logger.Interface, bin, socketPath string, count int) {
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			log.Warn(ctx, "cannot locate own binary to find alertworker: %v", err)
			return
		}
		bin = filepath.Join(filepath.Dir(self), "alertworker")
	}

	for i := 0; i < count; i++ {
		cmd := exec.Command(bin, "-socket", socketPath)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			log.Warn(ctx, "cannot start worker %d: %v", i, err)
			continue
		}
		// Reap the child when it exits so it doesn't linger as a zombie.
		go func() { _ = cmd.Wait() }()
	}
}

func run(ctx context.Context, log logger.Interface, metrics *telemetry.Provider, cfg *config.Config,
	svc *ipc.Service, pool *worker.Pool, q *queue.Manager, st *store.Store) {

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	senderFrequency := time.Duration(cfg.SenderFrequency) * time.Second

	var (
		timeStat = time.Now()
		timeDB   time.Time // zero: poll on the first iteration
		timeIdle time.Duration
		sentNum  int
		failsNum int
	)

	for {
		select {
		case sig := <-sigCh:
			log.Info(ctx, "received %v, shutting down", sig)
			shutdown(ctx, log, q, st)
			return
		default:
		}

		now := time.Now()

		if now.Sub(timeStat) > statInterval {
			log.Info(ctx, "sent %d, failed %d alerts, idle %.6f sec during %.6f sec",
				sentNum, failsNum, timeIdle.Seconds(), now.Sub(timeStat).Seconds())
			timeStat = now
			timeIdle = 0
			sentNum = 0
			failsNum = 0
		}

		if now.Sub(timeDB) >= senderFrequency {
			queued, err := st.QueueAlerts(ctx, q, now.Unix())
			if err != nil {
				log.Error(ctx, "cannot queue alerts: %v", err)
			} else if queued > 0 {
				metrics.RecordQueued(ctx, queued)
			}
			if _, err := st.FlushAlertUpdates(ctx, q); err != nil {
				log.Error(ctx, "cannot flush alert updates: %v", err)
			}
			timeDB = time.Now()
		}

		for q.CheckQueue(time.Now().Unix()) {
			alerter, ok := pool.PopFree()
			if !ok {
				break
			}
			a, ok := q.PopAlert()
			if !ok {
				pool.PushFree(alerter)
				break
			}
			if err := pool.ProcessAlert(q, alerter, a, time.Now().Unix()); err != nil {
				log.Warn(ctx, "cannot dispatch alert %d: %v", a.AlertID, err)
				pool.PushFree(alerter)
			}
		}

		waitStart := time.Now()
		client, msg, res := svc.Recv(time.Second)
		if res != ipc.RecvImmediate {
			idle := time.Since(waitStart)
			timeIdle += idle
			metrics.RecordIdle(ctx, idle)
		}

		if msg == nil {
			continue
		}

		switch msg.Code {
		case ipc.CodeRegister:
			if err := pool.RegisterAlerter(client, msg.Data); err != nil {
				log.Error(ctx, "cannot register worker: %v", err)
				os.Exit(1)
			}
		case ipc.CodeResult:
			sent, elapsed, err := pool.ProcessResult(q, client, msg.Data, time.Now().Unix())
			if err != nil {
				log.Error(ctx, "cannot process result: %v", err)
				os.Exit(1)
			}
			metrics.RecordResult(ctx, sent, elapsed)
			if sent {
				sentNum++
			} else {
				failsNum++
			}
		default:
			log.Warn(ctx, "ignoring unexpected message code %d", msg.Code)
		}
	}
}

// shutdown drains the scheduler without dispatching and flushes whatever
// outcomes are already buffered. The dropped alerts stay not-sent in the
// store and are re-read by the next manager's first poll.
func shutdown(ctx context.Context, log logger.Interface, q *queue.Manager, st *store.Store) {
	if _, err := st.FlushAlertUpdates(ctx, q); err != nil {
		log.Error(ctx, "cannot flush alert updates on shutdown: %v", err)
	}
	dropped := q.Close()
	if dropped > 0 {
		log.Info(ctx, "discarded %d queued alerts; they will be re-read on next start", dropped)
	}
}
