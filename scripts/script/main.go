package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var binaries = []string{"aesdsocket", "writer"}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run . <command>")
		fmt.Println("Commands: build, release, test")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "build":
		build()
	case "release":
		release()
	case "test":
		test()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func run(env []string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func build() {
	for _, bin := range binaries {
		fmt.Printf("Building %s...\n", bin)

		err := run(nil, "go", "build", "-ldflags", "-s -w", "-o", "./data/cli/"+bin, "./cmd/"+bin)
		if err != nil {
			fmt.Printf("Build failed: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("Build successful!")
}

func release() {
	fmt.Println("Building release binaries...")

	// Daemon mode and syslog need a unix target
	platforms := []string{
		"linux/amd64",
		"linux/arm64",
		"linux/arm",
	}

	for _, platform := range platforms {
		parts := strings.Split(platform, "/")
		goos := parts[0]
		goarch := parts[1]

		env := append(os.Environ(),
			"GOOS="+goos,
			"GOARCH="+goarch,
			"CGO_ENABLED=0",
		)

		for _, bin := range binaries {
			binaryName := fmt.Sprintf("./data/release/%s-%s-%s", bin, goos, goarch)
			fmt.Printf("Building %s for %s/%s...\n", bin, goos, goarch)

			err := run(env, "go", "build", "-ldflags", "-s -w", "-o", binaryName, "./cmd/"+bin)
			if err != nil {
				fmt.Printf("Build failed for %s/%s: %v\n", goos, goarch, err)
				os.Exit(1)
			}
		}
	}

	fmt.Println("Release build successful!")
}

func test() {
	fmt.Println("Running tests...")

	if err := run(nil, "go", "test", "-race", "./..."); err != nil {
		fmt.Printf("Tests failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Tests passed!")
}
