package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zorosafi2003/CenterPhoneApp/internal/api"
	"github.com/zorosafi2003/CenterPhoneApp/internal/config"
	"github.com/zorosafi2003/CenterPhoneApp/internal/importer"
	"github.com/zorosafi2003/CenterPhoneApp/internal/localstore"
	"github.com/zorosafi2003/CenterPhoneApp/internal/session"
	"github.com/zorosafi2003/CenterPhoneApp/internal/store"
	"github.com/zorosafi2003/CenterPhoneApp/internal/syncer"
)

// Agent runs the offline-first sync loop: refresh reference data from the
// server, then export queued attendance records. SIGHUP triggers a manual
// cycle; SIGINT/SIGTERM shut down.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("create data dir failed: %v", err)
	}

	db, err := store.Open(cfg.DatabaseFile)
	if err != nil {
		log.Fatalf("open local store failed: %v", err)
	}
	defer db.Close()

	repo := localstore.NewRepository(db.Client)
	client := api.New(config.LoadEndpoints(cfg.APIConfigFile), cfg.HTTPTimeout)
	sess := session.NewManager(cfg.CredentialsFile)

	if sess.Restore() {
		log.Printf("session restored for %s", sess.Email())
	} else {
		email := os.Getenv("AGENT_EMAIL")
		password := os.Getenv("AGENT_PASSWORD")
		if email == "" || password == "" {
			log.Fatal("no stored session and AGENT_EMAIL/AGENT_PASSWORD not set")
		}
		if err := sess.Login(ctx, client, email, password); err != nil {
			log.Fatalf("login failed: %v", err)
		}
		log.Printf("logged in as %s", email)
	}

	imp := importer.New(repo, client)
	exporter := syncer.New(repo, client, sess)

	manual := make(chan os.Signal, 1)
	signal.Notify(manual, syscall.SIGHUP)

	// Watch for forced logout (401 during any cycle).
	go func() {
		for state := range sess.Changes() {
			if !state.Authenticated {
				log.Println("session ended, stopping agent")
				cancel()
				return
			}
		}
	}()

	// Post-login cycle, then periodic.
	runCycle(ctx, sess, imp, exporter)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("agent stopped")
			return
		case <-ticker.C:
			runCycle(ctx, sess, imp, exporter)
		case <-manual:
			log.Println("manual sync requested")
			runCycle(ctx, sess, imp, exporter)
		}
	}
}

// runCycle refreshes reference data then exports queued records. Every error
// is logged and swallowed: background sync never kills the agent, queued data
// just waits for the next cycle.
func runCycle(ctx context.Context, sess *session.Manager, imp *importer.Importer, exporter *syncer.Syncer) {
	if !sess.Authenticated() {
		return
	}
	if sess.TokenExpired(time.Now()) {
		log.Println("bearer token expired, skipping cycle")
		sess.Logout()
		return
	}
	token := sess.Token()

	if n, err := imp.ImportStudents(ctx, token); err != nil {
		if sess.HandleAuthError(err) {
			return
		}
		log.Printf("student import failed: %v", err)
	} else {
		log.Printf("students refreshed: %d rows", n)
	}

	if n, err := imp.ImportCenters(ctx, token); err != nil {
		if sess.HandleAuthError(err) {
			return
		}
		log.Printf("center import failed: %v", err)
	} else {
		log.Printf("centers refreshed: %d rows", n)
	}

	stats, err := exporter.Export(ctx)
	if err != nil {
		log.Printf("export cycle ended with error: %v", err)
		return
	}
	if stats.Skipped {
		log.Println("export already running, trigger dropped")
		return
	}
	log.Printf("export: %d loaded, %d batches (%d failed), %d confirmed, %d remaining",
		stats.Loaded, stats.Batches, stats.Failed, stats.Confirmed, stats.Remaining)
}
