package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/gc"
	"github.com/dmitrijs2005/meterlog/internal/images"
	"github.com/dmitrijs2005/meterlog/internal/models"
	syncengine "github.com/dmitrijs2005/meterlog/internal/sync"
)

const usage = `usage: meterlog <command> [arguments]

commands:
  add <type> <value> [date]    record a reading (date RFC3339, default now)
  update <id> <value>          correct a reading's value
  list [type]                  list readings, newest first
  delete <id>                  delete a reading
  conflicts                    list readings awaiting conflict resolution
  resolve <id> local|remote    settle a conflict
  adopt                        claim local-only readings for the account
  attach <id> <file>           upload a meter photo and link it
  gc                           purge expired deleted readings
  run                          start the sync daemon

flags: -c config.json -d db -u owner -r remote-dsn -b broker-url -i interval`

// Dispatch routes the positional command words to their handlers.
func (a *App) Dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Println(usage)
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "add":
		return a.cmdAdd(ctx, rest)
	case "update":
		return a.cmdUpdate(ctx, rest)
	case "list":
		return a.cmdList(ctx, rest)
	case "delete":
		return a.cmdDelete(ctx, rest)
	case "conflicts":
		return a.cmdConflicts(ctx)
	case "resolve":
		return a.cmdResolve(ctx, rest)
	case "adopt":
		return a.cmdAdopt(ctx)
	case "attach":
		return a.cmdAttach(ctx, rest)
	case "gc":
		return a.cmdGC(ctx)
	case "run":
		return a.Run(ctx)
	default:
		fmt.Println(usage)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (a *App) cmdAdd(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: add <type> <value> [date]")
	}

	observedAt := time.Now()
	if len(args) > 2 {
		parsed, err := time.Parse(time.RFC3339, args[2])
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", args[2], err)
		}
		observedAt = parsed
	}

	rec, err := a.service.Add(ctx, a.config.OwnerID, models.MeterType(args[0]), args[1], observedAt, "")
	if err != nil {
		return err
	}
	fmt.Printf("added %s reading %s: %s %s\n", rec.MeterType, rec.ID, rec.Value, rec.MeterType.Unit())
	return nil
}

func (a *App) cmdUpdate(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: update <id> <value>")
	}

	rec, err := a.service.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if _, err := a.service.Update(ctx, rec.ID, args[1], rec.ObservedAt); err != nil {
		return err
	}
	fmt.Printf("updated reading %s\n", rec.ID)
	return nil
}

func (a *App) cmdList(ctx context.Context, args []string) error {
	var meterType models.MeterType
	if len(args) > 0 {
		meterType = models.MeterType(args[0])
		if !meterType.Valid() {
			return fmt.Errorf("unknown meter type %q", args[0])
		}
	}

	records, err := a.service.List(ctx, a.config.OwnerID, meterType)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no readings")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  %s  %-11s  %10s %-3s  [%s]\n",
			rec.ID, rec.ObservedAt.Local().Format("2006-01-02"),
			rec.MeterType, rec.Value, rec.MeterType.Unit(), rec.SyncStatus)
	}
	return nil
}

func (a *App) cmdDelete(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: delete <id>")
	}
	if err := a.service.SoftDelete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted reading %s\n", args[0])
	return nil
}

func (a *App) cmdConflicts(ctx context.Context) error {
	records, err := a.service.Conflicts(ctx, a.config.OwnerID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no conflicts")
		return nil
	}

	for _, rec := range records {
		remote := "?"
		if rec.Conflict != nil {
			if rec.Conflict.Deleted {
				remote = "(deleted on " + rec.Conflict.DeviceID + ")"
			} else {
				remote = rec.Conflict.Value + " from " + rec.Conflict.DeviceID
			}
		}
		fmt.Printf("%s  %-11s  local: %s, remote: %s\n", rec.ID, rec.MeterType, rec.Value, remote)
	}
	return nil
}

// cmdResolve settles a flagged conflict. Resolution is a local operation;
// the chosen value reaches the remote store on the next daemon push.
func (a *App) cmdResolve(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: resolve <id> local|remote")
	}

	engine := syncengine.NewEngine(syncengine.Options{
		Repo:   a.readings,
		Device: a.device,
		Logger: a.logger,
	})

	var err error
	switch args[1] {
	case "local":
		err = engine.ResolveKeepLocal(ctx, args[0])
	case "remote":
		err = engine.ResolveAcceptRemote(ctx, args[0])
	default:
		return fmt.Errorf("resolution must be \"local\" or \"remote\", got %q", args[1])
	}
	if err != nil {
		return err
	}
	fmt.Printf("resolved %s keeping the %s value\n", args[0], args[1])
	return nil
}

func (a *App) cmdAdopt(ctx context.Context) error {
	if a.config.OwnerID == "" {
		return fmt.Errorf("owner id is required to adopt (flag -u)")
	}
	n, err := a.service.Adopt(ctx, a.config.OwnerID)
	if err != nil {
		return err
	}
	fmt.Printf("adopted %d readings for %s\n", n, a.config.OwnerID)
	return nil
}

func (a *App) cmdAttach(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: attach <id> <file>")
	}

	store, err := a.imageStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("no image store configured (METERLOG_S3_BUCKET)")
	}

	rec, err := a.service.Get(ctx, args[0])
	if err != nil {
		return err
	}

	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	key := images.NewStorageKey(rec.OwnerID) + filepath.Ext(args[1])
	if err := store.Upload(ctx, key, f); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	if err := a.service.AttachImage(ctx, rec.ID, key); err != nil {
		return err
	}
	fmt.Printf("attached %s to reading %s\n", key, rec.ID)
	return nil
}

func (a *App) cmdGC(ctx context.Context) error {
	imgs, err := a.imageStore(ctx)
	if err != nil {
		return err
	}

	n, err := gc.NewCollector(a.readings, imgs, a.logger).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("collected %d images\n", n)
	return nil
}
