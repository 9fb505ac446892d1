package autoreply

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/config"
)

// WatchConfig reloads the engine's templates when the config file changes.
// Errors reloading leave the current template set in place.
func WatchConfig(ctx context.Context, engine *Engine, cfgPath string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(cfgPath); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := config.Load(cfgPath)
				if err != nil {
					log.Warn().Str("path", cfgPath).Err(err).Msg("config changed but reload failed, keeping templates")
					continue
				}
				engine.SetTemplates(cfg.AutoReply)
				log.Info().Int("templates", len(cfg.AutoReply.Templates)).Msg("auto-reply templates reloaded")
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("auto-reply config watcher error")
			}
		}
	}()
	return nil
}
