// Command sessionwatch signs in to a campusgate server and keeps the session
// alive from a terminal. Any input line counts as activity; "extend" answers
// the expiry warning and "quit" signs out.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/example/campusgate/internal/activity"
	"github.com/example/campusgate/internal/logger"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "Server base URL")
		email    = flag.String("email", "", "Account email")
		level    = flag.String("log-level", "info", "Log level")
		touchGap = flag.Duration("touch-interval", time.Minute, "Minimum gap between activity refreshes")
	)
	flag.Parse()

	log := logger.New(*level)
	password := os.Getenv("SESSIONWATCH_PASSWORD")
	if *email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "usage: SESSIONWATCH_PASSWORD=... sessionwatch -email you@campus.edu")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	credential, err := activity.Login(ctx, *server, *email, password)
	if err != nil {
		log.Error("login failed", slog.String("server", *server), slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("signed in", slog.String("email", *email))

	refresher := activity.NewHTTPRefresher(*server, credential)
	monitor := activity.NewMonitor(refresher, activity.Options{
		TouchInterval: *touchGap,
		Logger:        log,
		OnChange: func(s activity.State) {
			switch s.Phase {
			case activity.PhaseWarning:
				fmt.Printf("Your session expires in %ds. Type \"extend\" to stay signed in.\n", s.SecondsRemaining())
			case activity.PhaseActive:
				fmt.Println("Session extended.")
			}
		},
		OnTerminate: func(reason activity.TerminateReason) {
			log.Info("session terminated", slog.String("reason", string(reason)))
			stop()
		},
	})

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case "extend":
				if err := monitor.Extend(ctx); err != nil {
					log.Warn("extend failed", slog.Any("error", err))
				}
			case "quit":
				monitor.End()
				return
			default:
				monitor.RecordActivity()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if st := monitor.State(); st.WarningVisible() {
					fmt.Printf("%ds remaining\n", st.SecondsRemaining())
				}
			}
		}
	}()

	monitor.Run(ctx)
	monitor.Wait()
}
