package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"lendledger/docs"
	"lendledger/internal/loan_mgmt/ledger"
	"lendledger/internal/loan_mgmt/persistence"
	"lendledger/internal/loan_mgmt/sweeper"
	"lendledger/internal/platform/auth"
	"lendledger/internal/platform/config"
	"lendledger/internal/platform/kv"
	"lendledger/internal/platform/logging"
)

func main() {
	// 設定読み込み（引数で別ファイルを指定可）
	path := config.DefaultPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", path, err)
		os.Exit(1)
	}

	log := logging.New(cfg.Mode, cfg.Log.Level)
	log.WithFields(logrus.Fields{"mode": cfg.Mode, "backend": cfg.Storage.Backend}).Info("starting lendledger")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("open storage")
	}
	defer store.Close()
	ns := kv.WithPrefix(store, cfg.Storage.Namespace+".")

	// 台帳
	gw := persistence.NewGateway(ns, log)
	ldg := ledger.New(gw, log)
	ldg.Load(ctx)

	// 認証
	authSvc := auth.NewService(auth.NewStore(ns), []byte(cfg.Auth.JWTSecret), time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	if created, err := authSvc.EnsureAdmin(ctx, cfg.Auth.AdminID, cfg.Auth.AdminPassword); err != nil {
		log.WithError(err).Fatal("bootstrap admin")
	} else if created {
		log.WithField("id", cfg.Auth.AdminID).Warn("initial admin account created")
	}

	// 定期処理
	sw := sweeper.New(ldg, log, cfg.Sweeper)
	if err := sw.Start(); err != nil {
		log.WithError(err).Fatal("start sweeper")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logging.GinLogger(log), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == config.ModeDev {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Location"},
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
		docs.SwaggerInfo.Host = cfg.Server.Addr
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// ヘルス・メトリクス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// /api/v1
	api := r.Group("/api/v1")
	secured := api.Group("", auth.RequireAuth(authSvc.JWTSecret()))
	admin := secured.Group("", auth.RequireRole(auth.RoleAdmin))
	auth.RegisterRoutes(api, admin, authSvc)
	ledger.RegisterRoutes(secured, ldg)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.Server.TLS {
			// 開発用と本番用で証明書の置き場所が違う
			dir := "config/tls/" + cfg.Mode
			log.WithField("addr", srv.Addr).Info("listening (https)")
			err = srv.ListenAndServeTLS(dir+"/"+cfg.Certificate.Cert, dir+"/"+cfg.Certificate.Key)
		} else {
			log.WithField("addr", srv.Addr).Info("listening (http)")
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	select {
	case <-sw.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("sweeper did not stop in time")
	}
}
