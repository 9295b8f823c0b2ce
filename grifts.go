package switchboard

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobuffalo/envy"
	"github.com/markbates/grift/grift"
)

func init() {
	registerStatsTasks()
	registerLinkTasks()
	registerJobTasks()
}

// registerStatsTasks registers operational inspection tasks
func registerStatsTasks() {
	_ = grift.Namespace("switchboard", func() {
		_ = grift.Desc("stats", "Show hub and link overlay statistics")
		_ = grift.Add("stats", func(c *grift.Context) error {
			kit := globalKit

			fmt.Println("📊 Switchboard Statistics")
			fmt.Println("=========================")

			if kit == nil {
				fmt.Println("Status: Not wired")
				fmt.Println("\nℹ️  Wire switchboard into your app to enable stats")
				return nil
			}

			fmt.Printf("Sessions: %d\n", kit.Hub.Sessions())
			fmt.Printf("Clients:  %d\n", kit.Hub.Clients())

			regular, nft := kit.Links.Counts()
			fmt.Printf("Links:    %d regular, %d NFT\n", regular, nft)
			return nil
		})
	})
}

// registerLinkTasks registers persistent-link maintenance tasks
func registerLinkTasks() {
	_ = grift.Namespace("links", func() {
		_ = grift.Desc("regen", "Run one link regeneration pass")
		_ = grift.Add("regen", func(c *grift.Context) error {
			kit := globalKit
			if kit == nil {
				return fmt.Errorf("switchboard not wired - run inside the application")
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			n := kit.Links.RegenerateOnce(ctx)
			fmt.Printf("✅ Regenerated %d link(s)\n", n)
			return nil
		})

		_ = grift.Desc("keepalive", "Run one keep-alive extension pass")
		_ = grift.Add("keepalive", func(c *grift.Context) error {
			kit := globalKit
			if kit == nil {
				return fmt.Errorf("switchboard not wired - run inside the application")
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			n := kit.Links.KeepAliveOnce(ctx)
			fmt.Printf("✅ Extended %d link(s)\n", n)
			return nil
		})
	})

	_ = grift.Namespace("sessions", func() {
		_ = grift.Desc("reap", "Sweep dead endpoints and stale sessions once")
		_ = grift.Add("reap", func(c *grift.Context) error {
			kit := globalKit
			if kit == nil {
				return fmt.Errorf("switchboard not wired - run inside the application")
			}

			n := kit.Hub.ReapOnce()
			fmt.Printf("✅ Reaped %d session(s)\n", n)
			return nil
		})
	})
}

// registerJobTasks registers background job tasks
func registerJobTasks() {
	_ = grift.Namespace("jobs", func() {
		_ = grift.Desc("worker", "Start the background job worker")
		_ = grift.Add("worker", func(c *grift.Context) error {
			kit := globalKit
			if kit == nil || kit.Jobs == nil {
				redisURL := envy.Get("REDIS_URL", "")
				if redisURL == "" {
					fmt.Println("⚠️  No Redis configured (REDIS_URL not set)")
					fmt.Println("   Job worker running in no-op mode")
					fmt.Println("   Press Ctrl+C to stop")

					sigChan := make(chan os.Signal, 1)
					signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
					<-sigChan

					fmt.Println("\n✅ Worker stopped")
					return nil
				}

				return fmt.Errorf("jobs runtime not configured - ensure switchboard is wired into your app")
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

			fmt.Println("🔄 Starting job worker...")
			fmt.Println("   Press Ctrl+C to stop")
			fmt.Println("")

			errChan := make(chan error, 1)
			go func() {
				if err := kit.Jobs.Start(); err != nil {
					errChan <- err
				}
			}()

			select {
			case <-sigChan:
				fmt.Println("\n⏹️  Shutting down worker...")
			case err := <-errChan:
				return fmt.Errorf("worker error: %w", err)
			}

			if err := kit.Jobs.Stop(); err != nil {
				return fmt.Errorf("failed to stop worker: %w", err)
			}

			fmt.Println("✅ Worker stopped")
			return nil
		})

		_ = grift.Desc("enqueue", "Enqueue a maintenance job")
		_ = grift.Add("enqueue", func(c *grift.Context) error {
			kit := globalKit
			if kit == nil || kit.Jobs == nil {
				return fmt.Errorf("jobs runtime not configured")
			}

			jobType := "sessions:cleanup"
			if len(c.Args) > 0 {
				jobType = c.Args[0]
			}

			if err := kit.Jobs.Enqueue(jobType, nil); err != nil {
				return fmt.Errorf("failed to enqueue job: %w", err)
			}

			fmt.Printf("✅ Enqueued job: %s\n", jobType)
			return nil
		})
	})
}

// globalKit holds a reference to the Kit instance when switchboard is wired.
// This is set by Wire() to enable Grift tasks to access the runtime.
var globalKit *Kit

// SetGlobalKit sets the global Kit instance for Grift tasks.
// This is called automatically by Wire().
func SetGlobalKit(kit *Kit) {
	globalKit = kit
}
