package classic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/srg/bleep/internal/bleeperr"
	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/store"
)

// obexd (BlueZ's OBEX daemon) registers on the session bus, not the system
// bus internal/ipc's default pool talks to — callers construct a second
// ipc.Pool bound to a session-bus connection (ipc.NewWithConn(sessionConn,
// log)) and pass it here.
const (
	obexService            = "org.bluez.obex"
	obexClientInterface    = "org.bluez.obex.Client1"
	obexPhonebookInterface = "org.bluez.obex.PhonebookAccess1"
	obexTransferInterface  = "org.bluez.obex.Transfer1"
)

var obexRootPath = dbus.ObjectPath("/org/bluez/obex")

// PbapWatchdogWindow is the default zero-progress abort window (§4.7,
// scenario S6).
const PbapWatchdogWindow = 8 * time.Second

// PullPhonebook establishes an OBEX session against mac targeted at PBAP,
// optionally selects a repository ("pb", "ich", "och", "mch", "cch"), pulls
// the full phonebook in the requested vCard format ("2.1" or "3.0") to
// destPath, and returns a metadata row (repository, entry count, content
// hash). A watchdog aborts the pull — removing any partial file — if no
// transfer progress is observed for watchdogWindow (default 8s). When st is
// non-nil the metadata row is also persisted.
func PullPhonebook(ctx context.Context, obexPool *ipc.Pool, mac, repository, vcardFormat, destPath string, watchdogWindow time.Duration, st *store.Store) (store.PbapPull, error) {
	if watchdogWindow <= 0 {
		watchdogWindow = PbapWatchdogWindow
	}
	jobID := uuid.NewString()

	clientProxy, err := obexPool.GetProxy(ctx, obexService, obexRootPath, obexClientInterface)
	if err != nil {
		return store.PbapPull{}, err
	}

	var sessionPath dbus.ObjectPath
	createCall := clientProxy.Call(ctx, "CreateSession", mac, map[string]interface{}{"Target": "PBAP"})
	if createCall.Err != nil {
		return store.PbapPull{}, bleeperr.New(bleeperr.IPCUnavailable, "pbap_create_session", createCall.Err).WithDevice(mac)
	}
	if err := createCall.Store(&sessionPath); err != nil {
		return store.PbapPull{}, bleeperr.New(bleeperr.IPCUnavailable, "pbap_create_session", err).WithDevice(mac)
	}
	defer clientProxy.Call(context.Background(), "RemoveSession", sessionPath)

	pbProxy, err := obexPool.GetProxy(ctx, obexService, sessionPath, obexPhonebookInterface)
	if err != nil {
		return store.PbapPull{}, err
	}

	if repository != "" {
		if err := pbProxy.Call(ctx, "Select", "int", repository).Err; err != nil {
			return store.PbapPull{}, bleeperr.New(bleeperr.InvalidArgs, "pbap_select", err).WithDevice(mac).WithContext(repository)
		}
	}

	var transferPath dbus.ObjectPath
	var transferProps map[string]dbus.Variant
	pullCall := pbProxy.Call(ctx, "PullAll", destPath, map[string]interface{}{"Format": vcardFormat})
	if pullCall.Err != nil {
		return store.PbapPull{}, bleeperr.New(bleeperr.DeviceUnreachable, "pbap_pull_all", pullCall.Err).WithDevice(mac)
	}
	if err := pullCall.Store(&transferPath, &transferProps); err != nil {
		return store.PbapPull{}, bleeperr.New(bleeperr.DeviceUnreachable, "pbap_pull_all", err).WithDevice(mac)
	}

	if err := watchTransfer(ctx, obexPool, transferPath, destPath, watchdogWindow); err != nil {
		return store.PbapPull{}, err
	}

	data, err := os.ReadFile(destPath)
	if err != nil {
		return store.PbapPull{}, bleeperr.New(bleeperr.DeviceUnreachable, "pbap_read_result", err).WithDevice(mac).WithContext(destPath)
	}
	sum := sha256.Sum256(data)

	pull := store.PbapPull{
		DeviceMAC:   mac,
		JobID:       jobID,
		Repository:  repository,
		VCardFormat: vcardFormat,
		EntryCount:  countVCards(data),
		ContentHash: hex.EncodeToString(sum[:]),
		DestPath:    destPath,
		Timestamp:   time.Now().UTC(),
	}
	if st != nil {
		if err := st.UpsertPbapPull(ctx, pull); err != nil {
			return pull, err
		}
	}
	return pull, nil
}

// watchTransfer polls the OBEX Transfer1 object's Status/Transferred
// properties, aborting with OperationTimeout (and removing the partial
// destination file) if Transferred makes no progress for window (§4.7,
// scenario S6).
func watchTransfer(ctx context.Context, pool *ipc.Pool, transferPath dbus.ObjectPath, destPath string, window time.Duration) error {
	p, err := pool.GetProxy(ctx, obexService, transferPath, obexTransferInterface)
	if err != nil {
		return err
	}

	var lastTransferred uint64
	lastProgress := time.Now()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if statusV, err := p.GetProperty(ctx, "Status"); err == nil {
				switch status, _ := statusV.Value().(string); status {
				case "complete":
					return nil
				case "error":
					return bleeperr.New(bleeperr.DeviceUnreachable, "pbap", nil).WithContext("transfer error")
				}
			}
			if transferredV, err := p.GetProperty(ctx, "Transferred"); err == nil {
				if transferred, ok := toUint64(transferredV.Value()); ok && transferred > lastTransferred {
					lastTransferred = transferred
					lastProgress = time.Now()
				}
			}
			if time.Since(lastProgress) >= window {
				_ = p.Call(ctx, "Cancel").Err
				_ = os.Remove(destPath)
				return bleeperr.New(bleeperr.OperationTimeout, "pbap", nil).WithContext("no progress")
			}
		}
	}
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case int64:
		return uint64(n), true
	}
	return 0, false
}

// countVCards counts vCard entries in a pulled phonebook file — a
// format-agnostic way to count entries across both vCard 2.1 and 3.0.
func countVCards(data []byte) int {
	return bytes.Count(data, []byte("BEGIN:VCARD"))
}
