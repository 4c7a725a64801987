// Server runs the OTP HTTP API and the gRPC health endpoint.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/ShiroSan123/otp-valhalla/internal/audit"
	"github.com/ShiroSan123/otp-valhalla/internal/audit/producer"
	auditrepo "github.com/ShiroSan123/otp-valhalla/internal/audit/repository"
	"github.com/ShiroSan123/otp-valhalla/internal/config"
	"github.com/ShiroSan123/otp-valhalla/internal/db"
	healthhandler "github.com/ShiroSan123/otp-valhalla/internal/health/handler"
	identityrepo "github.com/ShiroSan123/otp-valhalla/internal/identity/repository"
	identityservice "github.com/ShiroSan123/otp-valhalla/internal/identity/service"
	"github.com/ShiroSan123/otp-valhalla/internal/logger"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/delivery"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
	otphandler "github.com/ShiroSan123/otp-valhalla/internal/otp/handler"
	otpservice "github.com/ShiroSan123/otp-valhalla/internal/otp/service"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/store"
	"github.com/ShiroSan123/otp-valhalla/internal/phone"
	"github.com/ShiroSan123/otp-valhalla/internal/qr"
	"github.com/ShiroSan123/otp-valhalla/internal/server"
	telemetryotel "github.com/ShiroSan123/otp-valhalla/internal/telemetry/otel"
)

const serviceName = "otp-valhalla"

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure, log)
	if err != nil {
		return err
	}
	providers.SetGlobal()

	pingers := map[string]healthhandler.Pinger{}

	var database *sql.DB
	if cfg.DatabaseURL != "" {
		database, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		pingers["postgres"] = database
	}

	var sessions interface {
		store.Store
		store.Sweeper
	}
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		client, err := store.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		pingers["redis"] = redisPinger(client)
		sessions = store.NewRedisStore(client, cfg.Grace())
	default:
		sessions = store.NewMemoryStore()
	}

	settings := delivery.Settings{
		SMSRU: delivery.SMSRUSettings{APIID: cfg.SMSRUAPIID, BaseURL: cfg.SMSRUBaseURL, Sender: cfg.SMSRUSender},
		Twilio: delivery.TwilioSettings{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			ServiceSID: cfg.TwilioVerifyServiceSID,
			BaseURL:    cfg.TwilioBaseURL,
		},
		Brand: cfg.QRBrand,
	}
	strategy := delivery.Select(settings, log)
	if strategy.Provider() == domain.ProviderMock && cfg.Env == "production" {
		log.Warn("no SMS provider configured in production; codes are only written to the log")
	}

	recorder := audit.NewRecorder(log, audit.DefaultBufferSize)
	var reader otpservice.AuditReader
	switch {
	case database != nil:
		repo := auditrepo.NewPostgresRepository(database)
		recorder.Register("postgres", audit.NewRepositorySink(repo))
		reader = repo
	case cfg.SupabaseEnabled():
		client, err := auditrepo.NewSupabaseTableClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
		if err != nil {
			return err
		}
		repo := auditrepo.NewSupabaseRepository(client)
		recorder.Register("supabase", audit.NewRepositorySink(repo))
		reader = repo
	default:
		log.Warn("no audit repository configured; session listing is unavailable")
	}
	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic)
	if kafkaProducer != nil {
		recorder.Register("kafka", kafkaProducer)
	}
	if cfg.OTLPEndpoint != "" {
		recorder.Register("otel", telemetryotel.NewEventEmitter(providers.LoggerProvider))
	}
	recorder.Start()

	var provisioner otpservice.Provisioner
	switch {
	case cfg.SupabaseEnabled():
		auth, err := identityrepo.NewSupabaseAdminAuth(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
		if err != nil {
			return err
		}
		provisioner = identityservice.NewProvisioner(identityrepo.NewSupabaseDirectory(auth), log)
	case database != nil:
		provisioner = identityservice.NewProvisioner(identityrepo.NewPostgresDirectory(database), log)
	}

	var qrBuilder otpservice.QRBuilder
	if cfg.QREnabled {
		qrBuilder = qr.NewBuilder(cfg.QRBrand, cfg.QRSize)
	}

	svc := otpservice.NewService(otpservice.Deps{
		Store:       sessions,
		Strategy:    strategy,
		QR:          qrBuilder,
		Audit:       recorder,
		AuditReader: reader,
		Provisioner: provisioner,
		Logger:      log,
	}, otpservice.Options{
		TTL:            cfg.TTL(),
		ExposeMockCode: cfg.MockExposeCode,
		ReportMaxBytes: cfg.ReportMaxBytes,
		Normalizer:     phone.NewNormalizer(cfg.PhoneCountryCode, cfg.PhoneTrunkPrefix, cfg.PhoneMobilePrefix),
	})

	var reaper *store.Reaper
	if interval := cfg.SweepInterval(); interval > 0 {
		reaper, err = store.NewReaper(sessions, interval, svc.ReportExpired, log)
		if err != nil {
			return err
		}
		reaper.Start()
	}

	checker := healthhandler.NewChecker(pingers, log)
	go checker.Run(ctx, 10*time.Second)

	router := server.NewRouter(server.RouterDeps{
		OTP:            otphandler.NewHandler(svc, log, cfg.ReportMaxBytes),
		Ready:          checker.Check,
		AllowedOrigins: cfg.CORSOrigins(),
		Logger:         log,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("provider", string(svc.Provider())))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = server.NewGRPCServer(server.Deps{Health: checker, Reflection: cfg.Env != "production"}, log)
		go func() {
			log.Info("grpc server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server failed, shutting down", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	checker.Shutdown()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if reaper != nil {
		reaper.Stop(shutdownCtx)
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Warn("audit recorder close", zap.Error(err))
	}
	if err := kafkaProducer.Close(); err != nil {
		log.Warn("kafka producer close", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn("otel shutdown", zap.Error(err))
	}
	log.Info("stopped")
	return runErr
}

func redisPinger(client *redis.Client) healthhandler.PingFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
