package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ticket_grabber/internal/captcha"
	"ticket_grabber/internal/config"
	"ticket_grabber/internal/ctoken"
	"ticket_grabber/internal/engine"
	"ticket_grabber/internal/httpapi"
	"ticket_grabber/internal/logbus"
	"ticket_grabber/internal/model"
	"ticket_grabber/internal/notify"
	"ticket_grabber/internal/provider"
	"ticket_grabber/internal/provider/standard"
	"ticket_grabber/internal/showapi"
	"ticket_grabber/internal/store/sqlite"
)

func main() {
	configPath := pflag.StringP("config", "c", "./config.yaml", "path to config.yaml")
	addr := pflag.String("addr", "", "listen address, overrides server.addr")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logbus.NewZap(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	bus := logbus.New(cfg.Log.BufferSize, logbus.WithMirror(logger))
	bus.Log("info", "server starting", map[string]any{"addr": cfg.Server.Addr, "captcha": cfg.Captcha.Mode})

	if err := run(cfg, bus, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, bus *logbus.Bus, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	solver, closeSolver, err := captcha.New(cfg.Captcha)
	if err != nil {
		return err
	}
	defer func() { _ = closeSolver() }()

	tokens := ctoken.NewFactory(ctoken.RemoteOptions{
		Endpoint: cfg.CToken.Endpoint,
		Timeout:  cfg.CToken.Timeout(),
		OnError: func(err error) {
			bus.Log("warn", "ctoken 签名服务调用失败", map[string]any{"error": err.Error()})
		},
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	email := notify.NewEmailNotifier(store, bus, cfg.Notify.EmailSummaryWindow())
	push := notify.NewPush(store, bus, notify.PushOptions{Timeout: cfg.Notify.PushTimeout()})
	notifier := notify.Multi{email, push}

	var api *httpapi.Server
	sup := engine.NewSupervisor(engine.Options{
		Sink:    bus,
		Metrics: engine.NewMetrics(reg),
		Endpoints: showapi.Endpoints{
			ShowBaseURL: cfg.Provider.ShowBaseURL,
			APIBaseURL:  cfg.Provider.APIBaseURL,
		},
		Budget: cfg.Grab.Budget(),
		Click: engine.ClickSettings{
			Width:  cfg.Grab.ScreenWidth,
			Height: cfg.Grab.ScreenHeight,
			Fast:   cfg.Grab.FastClick,
		},
		LeakPollInterval: cfg.Grab.LeakPollInterval(),
		LeakSaleFlags:    cfg.Grab.LeakSaleFlags,
		OnResult: []func(model.GrabResult){
			func(res model.GrabResult) {
				if err := store.InsertResult(context.Background(), res); err != nil {
					bus.Log("warn", "保存抢票结果失败", map[string]any{"taskId": res.TaskID, "error": err.Error()})
				}
			},
			func(res model.GrabResult) {
				name := ""
				if acc, err := store.GetAccountByUID(context.Background(), res.UID); err == nil {
					name = acc.Name
				}
				if evt, ok := notify.EventFromResult(res, name); ok {
					notifier.NotifyOrder(context.Background(), evt)
				}
			},
		},
		OnTaskUpdate: func(info model.TaskInfo) {
			if err := store.UpsertTask(context.Background(), info); err != nil {
				bus.Log("warn", "保存任务状态失败", map[string]any{"taskId": info.ID, "error": err.Error()})
			}
			if info.Kind == engine.KindGrab && info.Status.State.Terminal() && api != nil {
				if err := api.SaveSessionCookies(context.Background(), info.AccountID); err != nil {
					bus.Log("warn", "回写账号 cookie 失败", map[string]any{"accountId": info.AccountID, "error": err.Error()})
				}
			}
		},
	})

	global := standard.NewGlobalLimiter(cfg.Limits)
	api = httpapi.New(httpapi.Options{
		Cfg:        cfg,
		Bus:        bus,
		Store:      store,
		Supervisor: sup,
		Sessions: func(acc model.Account) (provider.Session, error) {
			sess, err := standard.New(acc, standard.Options{
				Provider: cfg.Provider,
				Proxy:    cfg.Proxy,
				Limits:   cfg.Limits,
				Global:   global,
				Bus:      bus,
			})
			if err != nil {
				return nil, err
			}
			return sess, nil
		},
		Solver:   solver,
		Tokens:   tokens,
		Push:     push,
		Gatherer: reg,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bus.Log("info", "http server listening", map[string]any{"addr": cfg.Server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		bus.Log("info", "shutdown signal received", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var errs []error
		errs = append(errs, sup.Shutdown(shutdownCtx))
		errs = append(errs, server.Shutdown(shutdownCtx))
		errs = append(errs, email.Close(shutdownCtx))
		errs = append(errs, push.Wait(shutdownCtx))
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info("server stopped")
	bus.Close()
	return err
}
