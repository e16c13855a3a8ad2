package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/corestore/pkg/engine"
	"github.com/cuemby/corestore/pkg/sink"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "recover a store by replaying its persistence sink, without serving anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := sinkPath()
		if path == "" {
			return fmt.Errorf("replay requires --data-dir")
		}

		db := engine.New(opts.Engine())
		if err := loadSchema(schemaPath, db); err != nil {
			return err
		}

		store, err := sink.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Replay(db); err != nil {
			return fmt.Errorf("replay: %w", err)
		}

		n, err := store.Len()
		if err != nil {
			return err
		}
		fmt.Printf("✓ replayed %d sealed records from %s\n", n, path)
		return nil
	},
}
