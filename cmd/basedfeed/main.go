package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"gorm.io/gorm"

	"github.com/totegamma/basedfeed/client"
	"github.com/totegamma/basedfeed/internal/config"
	"github.com/totegamma/basedfeed/internal/infra/chain"
	"github.com/totegamma/basedfeed/internal/infra/database"
	"github.com/totegamma/basedfeed/internal/infra/gateway"
	"github.com/totegamma/basedfeed/internal/infra/repository"
	"github.com/totegamma/basedfeed/internal/infra/tracing"
	"github.com/totegamma/basedfeed/internal/present/rest"
	viewer "github.com/totegamma/basedfeed/internal/present/rest/middleware"
	"github.com/totegamma/basedfeed/internal/service"
	"github.com/totegamma/basedfeed/internal/usecase"
)

const serviceName = "basedfeed"

func main() {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	conf, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", path), slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		shutdown, err := tracing.Setup(ctx, serviceName, conf.Server.TraceEndpoint)
		if err != nil {
			panic("failed to setup tracing: " + err.Error())
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	rpc, err := ethclient.DialContext(ctx, conf.Chain.RPCURL)
	if err != nil {
		panic("failed to dial rpc: " + err.Error())
	}
	defer rpc.Close()

	contract := common.HexToAddress(conf.Chain.Contract)

	chainSource, err := chain.NewEventSource(rpc, contract, conf.Chain.StartBlock, conf.Chain.ScanBlockSpan)
	if err != nil {
		panic("failed to build event source: " + err.Error())
	}

	state, err := chain.NewStateReader(rpc, contract)
	if err != nil {
		panic("failed to build state reader: " + err.Error())
	}

	var mutations usecase.MutationGateway
	if conf.Chain.PrivateKey != "" {
		writer, err := chain.NewWriter(rpc, contract, conf.Chain.PrivateKey, conf.Chain.ChainIDBig(), conf.Content.Gateway)
		if err != nil {
			panic("failed to build writer: " + err.Error())
		}
		slog.Info("mutations enabled", slog.String("from", writer.From().Hex()))
		mutations = writer
	}

	var mc *memcache.Client
	if conf.Content.MemcachedAddr != "" {
		mc, err = database.NewMemcached(conf.Content.MemcachedAddr)
		if err != nil {
			slog.Warn("memcached unavailable, using the local cache only", slog.String("error", err.Error()))
			mc = nil
		}
	}
	content := gateway.NewContentGateway(client.New(conf.Content.Timeout), conf.Content.Gateway, mc)

	var signalService *service.SignalService
	if conf.Server.RedisAddr != "" {
		rdb, err := database.NewRedis(ctx, conf.Server.RedisAddr, conf.Server.RedisPassword, conf.Server.RedisDB)
		if err != nil {
			panic("failed to connect redis: " + err.Error())
		}
		defer rdb.Close()
		signalService = service.NewSignalService(rdb)
	}

	var db *gorm.DB
	if conf.Server.PostgresDsn != "" {
		db, err = database.NewPostgres(conf.Server.PostgresDsn)
		if err != nil {
			panic("failed to connect database: " + err.Error())
		}
		err = database.Migrate(db)
		if err != nil {
			panic("failed to migrate database: " + err.Error())
		}
	}

	var source usecase.EventSource = chainSource
	if db != nil {
		var live usecase.SignalSubscriber
		if signalService != nil {
			live = signalService
		}
		mirror := repository.NewEventRepository(db, live)

		if conf.Server.EventSource == config.EventSourceDatabase {
			source = mirror
		}

		if conf.Server.Indexer {
			var publisher usecase.SignalPublisher
			if signalService != nil {
				publisher = signalService
			}
			indexer := service.NewIndexer(chainSource, mirror, publisher, 0, conf.Server.IndexInterval)
			go indexer.Run(ctx)
		}
	}

	feed := usecase.NewFeedUsecase(
		source,
		content,
		state,
		mutations,
		usecase.FeedOptions{
			PageSize:      conf.Feed.PageSize,
			Concurrency:   conf.Feed.Concurrency,
			PurchaseBatch: conf.Feed.PurchaseBatch,
		},
		conf.Feed.SessionIdle,
	)

	e := echo.New()
	e.HideBanner = true
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware(serviceName))
	}
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(viewer.IdentifyViewer)

	handler := rest.NewHandler(feed, signalService)
	handler.RegisterRoutes(e)

	go func() {
		if err := e.Start(conf.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
}
