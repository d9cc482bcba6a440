package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the demo service catalog",
	Long: `Inserts demo categories, subcategories, rate cards, providers with
coverage, and two addresses for user 1. Inserts use fixed ids with OR
IGNORE, so reseeding an existing database changes nothing.`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.st.Seed(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Demo catalog seeded into %s\n", a.st.Path())
	return nil
}
