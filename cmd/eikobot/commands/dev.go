package commands

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/eikobot/eikobot/pkg/source"
)

func newDevCommand() *cobra.Command {
	var filePath string

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch a model and recompile it on every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			dir := filepath.Dir(filePath)
			if err := watcher.Add(dir); err != nil {
				return err
			}
			log.Info().Str("dir", dir).Msg("watching for changes")

			recompile := func() {
				srcmap := source.NewMap()
				if _, err := compileModel(ctx, srcmap, filePath); err != nil {
					reportError(srcmap, err)
					return
				}
				log.Info().Msg("compiled successfully")
			}
			recompile()

			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !strings.HasSuffix(event.Name, ".eiko") {
						continue
					}
					if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
						log.Debug().Str("file", event.Name).Msg("change detected")
						recompile()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("watch error")
				}
			}
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "main.eiko", "model file to watch")
	return cmd
}
