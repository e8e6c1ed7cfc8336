package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"memo-sync/internal/credential"
	"memo-sync/internal/domain"
	"memo-sync/internal/localstore"
	"memo-sync/internal/remote"
	"memo-sync/internal/syncengine"
)

type app struct {
	store  *localstore.Store
	creds  *credential.FileStore
	remote *remote.Client
	engine *syncengine.Engine
}

func openApp(opts ...syncengine.Option) (*app, error) {
	store, err := localstore.Open(cfg.DBPath, lg.Named("store"))
	if err != nil {
		return nil, err
	}

	creds, err := credential.NewFileStore(cfg.TokenFile)
	if err != nil {
		store.Close()
		return nil, err
	}

	deviceID, err := credential.DeviceID(filepath.Join(filepath.Dir(cfg.TokenFile), "device"))
	if err != nil {
		store.Close()
		return nil, err
	}

	client := remote.New(cfg.ServerURL, creds,
		remote.WithTimeout(cfg.RequestTimeout),
		remote.WithDeviceID(deviceID),
		remote.WithLogger(lg.Named("remote")),
	)

	opts = append([]syncengine.Option{
		syncengine.WithLogger(lg.Named("sync")),
		syncengine.WithFeed(client),
	}, opts...)

	engine := syncengine.New(syncengine.Config{
		Debounce:          cfg.Debounce,
		PingInterval:      cfg.PingInterval,
		PingTimeout:       cfg.PingTimeout,
		ReconcileInterval: cfg.ReconcileInterval,
	}, store, client, creds, opts...)

	return &app{store: store, creds: creds, remote: client, engine: engine}, nil
}

func (a *app) Close() {
	a.engine.Close()
	a.engine.Wait()
	a.store.Close()
}

// syncAfterWrite pushes local changes right away so a short-lived command
// does not leave them waiting for the next session.
func (a *app) syncAfterWrite(ctx context.Context) {
	if noSync {
		fmt.Println("Saved locally.")
		return
	}
	if !a.creds.IsAuthenticated() {
		fmt.Println("Saved locally. Run `memo login` to sync.")
		return
	}

	err := a.engine.SyncOnce(ctx)
	switch {
	case err == nil:
		fmt.Println("Synced.")
	case errors.Is(err, domain.ErrOffline):
		fmt.Println("Saved locally; will sync when the server is reachable.")
	case domain.IsAuthError(err):
		fmt.Println("Saved locally. Session expired, run `memo login` to sync.")
	default:
		fmt.Printf("Saved locally; sync failed: %v\n", err)
	}
}
