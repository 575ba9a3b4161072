package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"cinemaws.org/internal/config"
	"cinemaws.org/internal/gate"
	"cinemaws.org/internal/httpapi"
	"cinemaws.org/internal/identity"
	"cinemaws.org/internal/migrate"
	"cinemaws.org/internal/obs"
	"cinemaws.org/internal/session"
	"cinemaws.org/internal/store/pg"
	pgmigrations "cinemaws.org/internal/store/pg/migrations"
	"cinemaws.org/internal/store/sidestore"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("cinemaws-api stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	obs.Init(cfg.Version)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer creds.Close()

	applied, err := migrate.NewManager(creds.DB(), pgmigrations.FS).Up(ctx)
	if err != nil {
		return err
	}
	for _, name := range applied {
		log.Info("migration applied", "name", name)
	}

	side, err := sidestore.Open(ctx, cfg.SideStoreDriver, cfg.SideStorePath)
	if err != nil {
		return err
	}
	defer side.Close()

	issuer, err := session.NewIssuer(cfg.JWTSecret, session.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return err
	}
	svc, err := identity.NewService(creds, side, issuer,
		identity.WithHashCost(cfg.BcryptCost),
		identity.WithAdminUsername(cfg.AdminUsername),
	)
	if err != nil {
		return err
	}

	var gateOpts []gate.Option
	if cfg.RevokeOnDelete {
		gateOpts = append(gateOpts, gate.WithRevoker(svc))
	}
	g := gate.New(cfg.LoginSecret, issuer, gateOpts...)

	probe := httpapi.ReadyProbe{
		Checks:  map[string]httpapi.Pinger{"postgres": creds, "sidestore": side},
		Timeout: 2 * time.Second,
	}
	api := httpapi.New(svc, g, probe, httpapi.Options{
		Version:      cfg.Version,
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RatePerSec:   cfg.LoginRatePerSec,
		RateBurst:    cfg.LoginRateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		healthSrv := httpapi.NewHealthServer(probe, 10*time.Second)
		healthSrv.Register(grpcSrv)
		go healthSrv.Run(ctx)
		go func() {
			log.Info("grpc health listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}
	go func() {
		log.Info("starting cinemaws-api", "version", cfg.Version, "addr", cfg.HTTPAddr, "sidestore", cfg.SideStoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("stopped")
	return serveErr
}
