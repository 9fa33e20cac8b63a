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
			fmt.Fprintln(os.Stderr, "usage: onboarding setup --admin-email <email> --admin-password <password> [--force]")
			fmt.Fprintln(os.Stderr, "       onboarding run api|client|all")
			fmt.Fprintln(os.Stderr, "       onboarding seed --file catalog.yaml")
			fmt.Fprintln(os.Stderr, "       onboarding backup --out backup.db.xz")
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
