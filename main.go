package main

import (
	"fmt"
	"log"
	"os"

	"stepflow/cmd"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		configPath := "stepflow.yml"
		if len(os.Args) >= 3 {
			configPath = os.Args[2]
		}
		os.Exit(cmd.Run(configPath))
	case "serve":
		if err := cmd.Serve(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	default:
		fmt.Println("Unknown command:", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  stepflow run [config]   run the pipeline (default: stepflow.yml)")
	fmt.Println("  stepflow serve          start the dashboard server and scheduler")
}
