package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/asheshgoplani/termbot/internal/bridge"
	"github.com/asheshgoplani/termbot/internal/logging"
	"github.com/asheshgoplani/termbot/internal/statedb"
)

const (
	// instanceTimeout is how stale a heartbeat may be before the instance
	// counts as dead and loses the primary role.
	instanceTimeout   = 30 * time.Second
	heartbeatInterval = 10 * time.Second
)

// ErrAlreadyRunning means another live termbot holds the primary role for
// this state database. Two bots polling one token make Telegram reject both.
var ErrAlreadyRunning = errors.New("termbot is already running against this state database")

var storeLog = logging.ForComponent(logging.CompStore)

// connStore persists bridge connections in the state database.
type connStore struct {
	db *statedb.StateDB
}

var _ bridge.Store = connStore{}

func (s connStore) SaveConnection(info bridge.ConnectionInfo) error {
	return s.db.SaveConnection(statedb.ConnectionRow{
		ChatID:      info.ChatID,
		Pane:        info.Pane,
		AutoEnter:   info.AutoEnter,
		WindowMsgID: info.WindowMsgID,
		PanelMsgID:  info.PanelMsgID,
		ConnectedAt: info.ConnectedAt,
	})
}

func (s connStore) DeleteConnection(chatID int64) error {
	return s.db.DeleteConnection(chatID)
}

// openState opens and migrates the database. When the stored bridge mode
// differs from mode, remembered message ids are dropped: a window id means
// nothing to stream mode and the other way round.
func openState(path string, mode bridge.Mode) (*statedb.StateDB, error) {
	db, err := statedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	prev, err := db.GetMeta(statedb.MetaBridgeMode)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if prev != "" && prev != string(mode) {
		if err := db.ClearMessageIDs(); err != nil {
			_ = db.Close()
			return nil, err
		}
		storeLog.Info("mode_changed_message_ids_cleared", slog.String("from", prev), slog.String("to", string(mode)))
	}
	if err := db.SetMeta(statedb.MetaBridgeMode, string(mode)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// claimInstance registers this process and tries to become primary. A
// primary whose process is gone (killed before it could unregister) still
// has a fresh heartbeat; its row is removed and the election rerun.
func claimInstance(db *statedb.StateDB) error {
	if err := db.RegisterInstance(false); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	primary, err := db.ElectPrimary(instanceTimeout)
	if err == nil && !primary {
		primary, err = replaceDeadPrimary(db)
	}
	if err != nil {
		_ = db.UnregisterInstance()
		return fmt.Errorf("elect primary: %w", err)
	}
	if !primary {
		_ = db.UnregisterInstance()
		return ErrAlreadyRunning
	}
	return nil
}

func replaceDeadPrimary(db *statedb.StateDB) (bool, error) {
	pid, err := db.Primary(instanceTimeout)
	if err != nil || pid == 0 || processAlive(pid) {
		return false, err
	}
	storeLog.Info("dead_primary_removed", slog.Int("pid", pid))
	if err := db.RemoveInstance(pid); err != nil {
		return false, err
	}
	return db.ElectPrimary(instanceTimeout)
}

// processAlive reports whether pid exists. EPERM means it exists under
// another user.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func releaseInstance(db *statedb.StateDB) {
	if err := db.ResignPrimary(); err != nil {
		storeLog.Warn("resign_primary_failed", slog.String("error", err.Error()))
	}
	if err := db.UnregisterInstance(); err != nil {
		storeLog.Warn("unregister_instance_failed", slog.String("error", err.Error()))
	}
}

// heartbeatLoop keeps this instance alive in the database until ctx ends.
func heartbeatLoop(ctx context.Context, db *statedb.StateDB) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := db.Heartbeat(); err != nil {
				storeLog.Warn("heartbeat_failed", slog.String("error", err.Error()))
			}
			if err := db.CleanDeadInstances(instanceTimeout); err != nil {
				storeLog.Debug("clean_dead_instances_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// restoreConnections reinstalls stored connections. Rows whose pane is gone
// are dropped by the bridge.
func restoreConnections(db *statedb.StateDB, br *bridge.Bridge) (restored, dropped int) {
	rows, err := db.LoadConnections()
	if err != nil {
		storeLog.Error("load_connections_failed", slog.String("error", err.Error()))
		return 0, 0
	}
	for _, row := range rows {
		err := br.Restore(bridge.ConnectionInfo{
			ChatID:      row.ChatID,
			Pane:        row.Pane,
			AutoEnter:   row.AutoEnter,
			WindowMsgID: row.WindowMsgID,
			PanelMsgID:  row.PanelMsgID,
			ConnectedAt: row.ConnectedAt,
		})
		if err != nil {
			dropped++
			storeLog.Info("connection_not_restored",
				slog.Int64("chat_id", row.ChatID),
				slog.String("pane", row.Pane),
				slog.String("error", err.Error()))
			continue
		}
		restored++
	}
	return restored, dropped
}
