package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/phillip-england/onboarding/internal/onboardingcli"
)

func main() {
	if err := onboardingcli.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, onboardingcli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr)
			_ = onboardingcli.NewRootCommand(os.Stderr).Usage()
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
