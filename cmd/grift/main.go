package main

import (
	"fmt"
	"os"

	"github.com/markbates/grift/grift"

	// Import switchboard to register grift tasks
	_ "github.com/johnjansen/switchboard"
)

func main() {
	// Check if we have any arguments
	if len(os.Args) < 2 {
		fmt.Println("Usage: grift [namespace:]task [args...]")
		fmt.Println("\nAvailable tasks:")
		fmt.Println("  switchboard:stats - Show hub and link overlay statistics")
		fmt.Println("  sessions:reap     - Sweep dead endpoints and stale sessions once")
		fmt.Println("  links:regen       - Run one link regeneration pass")
		fmt.Println("  links:keepalive   - Run one keep-alive extension pass")
		fmt.Println("  jobs:worker       - Start the background job worker")
		fmt.Println("")
		fmt.Println("Use 'grift list' to see all available tasks")
		os.Exit(1)
	}

	// Handle special commands
	if os.Args[1] == "list" {
		fmt.Println("Available Grift Tasks:")
		fmt.Println("======================")

		tasks := grift.List()
		if len(tasks) == 0 {
			fmt.Println("No tasks registered")
		} else {
			for _, task := range tasks {
				fmt.Printf("  %s\n", task)
			}
		}
		os.Exit(0)
	}

	// Parse task name and arguments
	taskName := os.Args[1]
	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}

	ctx := grift.NewContext(taskName)
	ctx.Args = args

	if err := grift.Run(taskName, ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running task %s: %v\n", taskName, err)
		os.Exit(1)
	}
}
